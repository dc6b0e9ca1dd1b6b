// Package billing exposes the subscription billing service over HTTP.
//
// The router mounts the Stripe webhook receiver alongside a small JSON
// API for checkout creation, plan discovery, cancellation and read access
// to per-owner subscription state.
package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumispace/billing/pkg/billing"
)

const maxWebhookBodyBytes = 1 << 20

// Module bundles the billing service with its HTTP surface.
type Module struct {
	svc billing.Service
	log *slog.Logger
}

// NewModule creates the HTTP module. Panics on nil service since the
// module is useless without one.
func NewModule(svc billing.Service, log *slog.Logger) *Module {
	if svc == nil {
		panic("billing module: service is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Module{svc: svc, log: log}
}

// Router builds the chi router for the module.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.NewModule(svc, log).Router())
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/stripe", m.handleWebhook)
	r.Post("/checkout", m.handleCreateCheckout)
	r.Get("/plans", m.handleListPlans)
	r.Post("/subscriptions/{subscriptionID}/cancel", m.handleCancelSubscription)

	r.Route("/owners/{ownerType}/{ownerID}", func(r chi.Router) {
		r.Get("/subscriptions", m.handleGetSubscriptions)
		r.Get("/history", m.handleListHistory)
	})

	return r
}

func (m *Module) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		respondError(w, billing.ErrMalformedEvent)
		return
	}
	signature := r.Header.Get("Stripe-Signature")

	if err := m.svc.HandleWebhook(r.Context(), payload, signature); err != nil {
		m.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

type checkoutRequest struct {
	OwnerType  string `json:"owner_type"`
	OwnerID    string `json:"owner_id"`
	PayerID    string `json:"payer_id"`
	PriceID    string `json:"price_id"`
	PromoCode  string `json:"promo_code"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (m *Module) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, billing.ErrMalformedEvent)
		return
	}

	session, err := m.svc.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		Owner: billing.OwnerRef{
			Type:    billing.OwnerType(req.OwnerType),
			ID:      req.OwnerID,
			PayerID: req.PayerID,
		},
		PriceID:    req.PriceID,
		PromoCode:  req.PromoCode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		m.log.ErrorContext(r.Context(), "checkout session creation failed", "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (m *Module) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := m.svc.ListPlans(r.Context())
	if err != nil {
		m.log.ErrorContext(r.Context(), "plan listing failed", "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plans)
}

func (m *Module) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subscriptionID")
	if err := m.svc.CancelSubscription(r.Context(), subID); err != nil {
		m.log.ErrorContext(r.Context(), "subscription cancellation failed",
			"subscription_id", subID, "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (m *Module) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	list, err := m.svc.GetSubscriptionList(r.Context(), owner)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (m *Module) handleListHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			respondError(w, billing.ErrMalformedEvent)
			return
		}
		limit = n
	}

	items, err := m.svc.ListHistory(r.Context(), owner, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func ownerFromRequest(w http.ResponseWriter, r *http.Request) (billing.OwnerRef, bool) {
	owner := billing.OwnerRef{
		Type: billing.OwnerType(chi.URLParam(r, "ownerType")),
		ID:   chi.URLParam(r, "ownerID"),
	}
	if !owner.Valid() {
		respondError(w, billing.ErrInvalidOwner)
		return billing.OwnerRef{}, false
	}
	return owner, true
}
