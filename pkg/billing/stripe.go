package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	stripeinvoice "github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/promotioncode"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys stamped on checkout sessions (and propagated to the
// subscription) for forward owner resolution.
const (
	metaOwnerType = "owner_type"
	metaOwnerID   = "owner_id"
	metaPayerID   = "payer_id"
	metaPromoCode = "promo_code"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey         string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET,required"`
	DefaultSuccessURL string `env:"STRIPE_CHECKOUT_SUCCESS_URL"`
	DefaultCancelURL  string `env:"STRIPE_CHECKOUT_CANCEL_URL"`
}

// StripeProvider implements Provider on top of the official Stripe SDK.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a Stripe billing provider. The secret key is
// installed globally in the SDK, so one process serves one Stripe account.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	stripe.Key = config.SecretKey

	return &StripeProvider{config: config}, nil
}

// ParseWebhook verifies the Stripe-Signature header (constant-time HMAC
// comparison inside the SDK) and normalizes the event. Verification
// failures map to ErrUnauthenticated; a verified envelope that cannot be
// decoded for its category maps to ErrMalformedEvent.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrUnauthenticated)
	}

	// IgnoreAPIVersionMismatch keeps verification working when the account
	// pins a newer API version than the SDK; signature checking is
	// unaffected by the version.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	ev := &Event{
		ID:           stripeEvent.ID,
		ProviderType: string(stripeEvent.Type),
		OccurredAt:   time.Unix(stripeEvent.Created, 0).UTC(),
	}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		ev.Type = EventCheckoutCompleted
		if err := decodeCheckoutSession(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "customer.subscription.created":
		ev.Type = EventSubscriptionCreated
		if err := decodeSubscription(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "customer.subscription.updated":
		ev.Type = EventSubscriptionUpdated
		if err := decodeSubscription(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "customer.subscription.deleted":
		ev.Type = EventSubscriptionCanceled
		if err := decodeSubscription(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "invoice.payment_succeeded":
		ev.Type = EventInvoicePaid
		if err := decodeInvoiceRef(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "invoice.payment_failed":
		ev.Type = EventInvoicePaymentFailed
		if err := decodeInvoiceRef(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	case "payment_method.attached":
		ev.Type = EventPaymentMethodCaptured
		if err := decodePaymentMethodRef(ev, stripeEvent.Data.Raw); err != nil {
			return nil, err
		}

	default:
		ev.Type = EventUnknown
	}

	return ev, nil
}

func decodeCheckoutSession(ev *Event, raw json.RawMessage) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("%w: decoding checkout session: %v", ErrMalformedEvent, err)
	}

	if session.Subscription != nil {
		ev.SubscriptionID = session.Subscription.ID
	}
	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	ev.Owner = ownerFromMetadata(session.Metadata, session.ClientReferenceID)

	detail := &CheckoutDetail{
		SessionID:      session.ID,
		AmountSubtotal: session.AmountSubtotal,
		AmountTotal:    session.AmountTotal,
		Currency:       string(session.Currency),
		Discount:       session.Metadata[metaPromoCode],
	}
	if session.Invoice != nil {
		detail.InvoiceID = session.Invoice.ID
	}
	if session.TotalDetails != nil {
		detail.TaxAmount = session.TotalDetails.AmountTax
	}
	ev.Checkout = detail
	return nil
}

func decodeSubscription(ev *Event, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("%w: decoding subscription: %v", ErrMalformedEvent, err)
	}

	ev.SubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	// Checkout stamps the owner metadata onto the subscription too, so
	// lifecycle events can forward-resolve when the metadata survived.
	ev.Owner = ownerFromMetadata(sub.Metadata, "")
	return nil
}

// decodeInvoiceRef extracts the references the engine needs from an
// invoice payload. A private struct tracks just the fields of interest,
// covering both the legacy top-level subscription reference and the
// parent.subscription_details shape of newer API versions.
func decodeInvoiceRef(ev *Event, raw json.RawMessage) error {
	var inv struct {
		ID           string `json:"id"`
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("%w: decoding invoice: %v", ErrMalformedEvent, err)
	}

	ev.InvoiceID = inv.ID
	ev.CustomerID = inv.Customer
	ev.SubscriptionID = firstNonEmpty(inv.Subscription, inv.Parent.SubscriptionDetails.Subscription)
	return nil
}

func decodePaymentMethodRef(ev *Event, raw json.RawMessage) error {
	var pm struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(raw, &pm); err != nil {
		return fmt.Errorf("%w: decoding payment method: %v", ErrMalformedEvent, err)
	}
	ev.PaymentMethodID = pm.ID
	ev.CustomerID = pm.Customer
	return nil
}

// ownerFromMetadata builds the forward-resolution reference. The bare
// client_reference_id is honored as a user id for sessions created before
// owner metadata was stamped.
func ownerFromMetadata(metadata map[string]string, clientReferenceID string) OwnerRef {
	owner := OwnerRef{
		Type:    OwnerType(metadata[metaOwnerType]),
		ID:      metadata[metaOwnerID],
		PayerID: metadata[metaPayerID],
	}
	if owner.Valid() {
		return owner
	}
	if clientReferenceID != "" {
		return OwnerRef{Type: OwnerTypeUser, ID: clientReferenceID}
	}
	return OwnerRef{}
}

// GetSubscription re-fetches the authoritative subscription state, with
// the price's product, the default payment method and any discounts
// expanded in one call.
func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	params.AddExpand("default_payment_method")
	params.AddExpand("discounts.promotion_code")

	sub, err := stripesub.Get(id, params)
	if err != nil {
		return nil, providerErr("fetching subscription", err)
	}

	out := &ProviderSubscription{
		ID:       sub.ID,
		Status:   mapStripeStatus(sub.Status),
		Discount: subscriptionDiscount(sub),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.Currency = string(item.Price.Currency)
			out.Name = item.Price.Nickname
			if item.Price.Product != nil && item.Price.Product.Name != "" {
				out.Name = item.Price.Product.Name
			}
			qty := item.Quantity
			if qty == 0 {
				qty = 1
			}
			out.AmountSubtotal = item.Price.UnitAmount * qty
		}
	}

	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		out.Card = cardSummary(pm)
	}

	return out, nil
}

func subscriptionDiscount(sub *stripe.Subscription) string {
	for _, d := range sub.Discounts {
		if d == nil {
			continue
		}
		if d.PromotionCode != nil && d.PromotionCode.Code != "" {
			return d.PromotionCode.Code
		}
		if d.Coupon != nil {
			return firstNonEmpty(d.Coupon.Name, d.Coupon.ID)
		}
	}
	return ""
}

// GetInvoice re-fetches the authoritative invoice state. Tax and the
// subscription reference are read from the raw response because their
// shape moved between API versions; both default to empty when absent.
func (p *StripeProvider) GetInvoice(ctx context.Context, id string) (*ProviderInvoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := stripeinvoice.Get(id, params)
	if err != nil {
		return nil, providerErr("fetching invoice", err)
	}

	out := &ProviderInvoice{
		ID:            inv.ID,
		Subtotal:      inv.Subtotal,
		Total:         inv.Total,
		Currency:      string(inv.Currency),
		HostedURL:     inv.HostedInvoiceURL,
		PaymentStatus: invoicePaymentStatus(inv),
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		out.PaidAt = &paidAt
	}
	if inv.LastResponse != nil {
		out.SubscriptionID, out.TaxRate, out.TaxAmount = parseInvoiceExtras(inv.LastResponse.RawJSON)
	}
	return out, nil
}

func invoicePaymentStatus(inv *stripe.Invoice) PaymentStatus {
	switch {
	case inv.Status == stripe.InvoiceStatusPaid:
		return PaymentPaid
	case inv.AmountPaid > 0 && inv.AmountRemaining > 0:
		return PaymentPartiallyPaid
	default:
		return PaymentUnpaid
	}
}

// parseInvoiceExtras pulls the subscription reference and tax figures out
// of the raw invoice JSON, tolerating both the legacy fields
// (subscription, tax, tax_percent) and the current ones
// (parent.subscription_details, total_taxes).
func parseInvoiceExtras(raw []byte) (subscriptionID string, taxRate float64, taxAmount int64) {
	var extras struct {
		Subscription string  `json:"subscription"`
		Tax          int64   `json:"tax"`
		TaxPercent   float64 `json:"tax_percent"`
		TotalTaxes   []struct {
			Amount int64 `json:"amount"`
		} `json:"total_taxes"`
		Parent struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &extras); err != nil {
		return "", 0, 0
	}

	subscriptionID = firstNonEmpty(extras.Subscription, extras.Parent.SubscriptionDetails.Subscription)
	taxRate = extras.TaxPercent
	taxAmount = extras.Tax
	for _, t := range extras.TotalTaxes {
		taxAmount += t.Amount
	}
	return subscriptionID, taxRate, taxAmount
}

// GetPaymentMethod fetches a card summary for a payment method id.
func (p *StripeProvider) GetPaymentMethod(ctx context.Context, id string) (*CardSummary, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := paymentmethod.Get(id, params)
	if err != nil {
		return nil, providerErr("fetching payment method", err)
	}
	if pm.Card == nil {
		return nil, fmt.Errorf("%w: payment method %s is not a card", ErrMalformedEvent, id)
	}
	return cardSummary(pm), nil
}

func cardSummary(pm *stripe.PaymentMethod) *CardSummary {
	card := &CardSummary{
		ID:     pm.ID,
		Brand:  string(pm.Card.Brand),
		Last4:  pm.Card.Last4,
		Expiry: fmt.Sprintf("%02d/%02d", pm.Card.ExpMonth, pm.Card.ExpYear%100),
	}
	if pm.BillingDetails != nil {
		card.HolderName = pm.BillingDetails.Name
	}
	return card
}

// CreateCheckoutSession creates a hosted subscription checkout. Owner
// metadata is stamped on both the session and the subscription it creates
// so every later lifecycle event can forward-resolve.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (*CheckoutSession, error) {
	if cp.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if !cp.Owner.Valid() {
		return nil, ErrInvalidOwner
	}

	metadata := map[string]string{
		metaOwnerType: string(cp.Owner.Type),
		metaOwnerID:   cp.Owner.ID,
	}
	if cp.Owner.PayerID != "" {
		metadata[metaPayerID] = cp.Owner.PayerID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(cp.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(cp.Owner.ID),
		SuccessURL:        stripe.String(firstNonEmpty(cp.SuccessURL, p.config.DefaultSuccessURL)),
		CancelURL:         stripe.String(firstNonEmpty(cp.CancelURL, p.config.DefaultCancelURL)),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if cp.Email != "" {
		params.CustomerEmail = stripe.String(cp.Email)
	}

	if cp.PromoCode != "" {
		promoID, err := p.resolvePromoCode(ctx, cp.PromoCode)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{PromotionCode: stripe.String(promoID)},
		}
		params.AddMetadata(metaPromoCode, cp.PromoCode)
	}

	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, providerErr("creating checkout session", err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) resolvePromoCode(ctx context.Context, code string) (string, error) {
	listParams := &stripe.PromotionCodeListParams{
		Code:   stripe.String(code),
		Active: stripe.Bool(true),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := promotioncode.List(listParams)
	if iter.Next() {
		return iter.PromotionCode().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", providerErr("listing promotion codes", err)
	}
	return "", ErrInvalidPromoCode
}

// CancelSubscription cancels the subscription immediately at the provider.
func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := stripesub.Cancel(id, params); err != nil {
		return providerErr("canceling subscription", err)
	}
	return nil
}

// ListPlans joins the provider's active products and prices into the
// purchasable catalog.
func (p *StripeProvider) ListPlans(ctx context.Context) ([]Plan, error) {
	productParams := &stripe.ProductListParams{Active: stripe.Bool(true)}
	productParams.Context = ctx

	names := make(map[string]string)
	productIter := product.List(productParams)
	for productIter.Next() {
		pr := productIter.Product()
		names[pr.ID] = pr.Name
	}
	if err := productIter.Err(); err != nil {
		return nil, providerErr("listing products", err)
	}

	priceParams := &stripe.PriceListParams{Active: stripe.Bool(true)}
	priceParams.Context = ctx

	var plans []Plan
	priceIter := price.List(priceParams)
	for priceIter.Next() {
		pr := priceIter.Price()
		plan := Plan{
			PriceID:     pr.ID,
			Description: pr.Nickname,
			UnitAmount:  pr.UnitAmount,
			Currency:    string(pr.Currency),
		}
		if pr.Product != nil {
			plan.Name = names[pr.Product.ID]
		}
		if pr.Recurring != nil {
			plan.Interval = string(pr.Recurring.Interval)
		}
		plans = append(plans, plan)
	}
	if err := priceIter.Err(); err != nil {
		return nil, providerErr("listing prices", err)
	}
	return plans, nil
}

// mapStripeStatus normalizes Stripe subscription statuses. Trialing
// subscriptions grant access like active ones; incomplete states are
// treated as unpaid until the provider settles them.
func mapStripeStatus(status stripe.SubscriptionStatus) SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return StatusActive
	case stripe.SubscriptionStatusCanceled:
		return StatusCanceled
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusPaused:
		return StatusPaused
	case stripe.SubscriptionStatusIncompleteExpired:
		return StatusIncompleteExpired
	default:
		return StatusUnpaid
	}
}

// providerErr classifies SDK errors: a definite 404 means the referenced
// object is gone, everything else is treated as transient so the caller
// signals redelivery.
func providerErr(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) && sErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
	}
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("%s: %w", op, err))
}
