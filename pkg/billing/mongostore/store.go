package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lumispace/billing/pkg/billing"
)

// Store implements billing.Store on a mongo database.
type Store struct {
	db *mongo.Database
}

// New creates a store bound to the given database. Call EnsureIndexes once
// at startup before serving traffic.
func New(db *mongo.Database) *Store {
	if db == nil {
		panic("mongostore: database is required")
	}
	return &Store{db: db}
}

func (s *Store) lists() *mongo.Collection   { return s.db.Collection(collLists) }
func (s *Store) history() *mongo.Collection { return s.db.Collection(collHistory) }
func (s *Store) owners() *mongo.Collection  { return s.db.Collection(collOwnerIndex) }
func (s *Store) events() *mongo.Collection  { return s.db.Collection(collProcessedEvents) }

func (s *Store) ownerColl(t billing.OwnerType) (*mongo.Collection, error) {
	switch t {
	case billing.OwnerTypeUser:
		return s.db.Collection(collUsers), nil
	case billing.OwnerTypeLocation:
		return s.db.Collection(collLocations), nil
	default:
		return nil, fmt.Errorf("%w: owner type %q", billing.ErrInvalidOwner, t)
	}
}

// EnsureIndexes creates the indexes the engine's queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.history().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_type", Value: 1},
			{Key: "owner_id", Value: 1},
			{Key: "subscription_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	}); err != nil {
		return fmt.Errorf("creating history index: %w", err)
	}

	if _, err := s.lists().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "items.subscription_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("creating list subscription index: %w", err)
	}

	if _, err := s.owners().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "customer_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("creating customer index: %w", err)
	}

	return nil
}

// ApplyReconciliation commits the entire effect of one event in a single
// transaction: processed-event marker, snapshot upsert (update-in-place by
// subscription id), history insert, reverse-index upsert and the owner's
// entitlement flag. The driver retries transient aborts internally;
// whatever transient error survives that is surfaced as ErrStoreConflict
// so the provider redelivers.
func (s *Store) ApplyReconciliation(ctx context.Context, eff billing.ReconciliationEffect) error {
	if !eff.Owner.Valid() {
		return billing.ErrInvalidOwner
	}

	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, s.applyTx(ctx, eff)
	})
	if err != nil {
		if errors.Is(err, billing.ErrEventAlreadyProcessed) {
			return billing.ErrEventAlreadyProcessed
		}
		if isTransient(err) {
			return errors.Join(billing.ErrStoreConflict, err)
		}
		return err
	}
	return nil
}

func (s *Store) applyTx(ctx context.Context, eff billing.ReconciliationEffect) error {
	now := time.Now().UTC()

	// The marker goes in first: a duplicate key here means the event
	// already produced its effect and the whole transaction unwinds as a
	// no-op before touching anything else.
	if _, err := s.events().InsertOne(ctx, processedEventDoc{ID: eff.EventID, ProcessedAt: now}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("recording processed event: %w", err)
	}

	// Read-modify-write of the owner's list inside the transaction; two
	// concurrent events for the same owner conflict on commit instead of
	// losing an update.
	var list subscriptionListDoc
	err := s.lists().FindOne(ctx, bson.M{"_id": listKey(eff.Owner)}).Decode(&list)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		list = subscriptionListDoc{
			ID:        listKey(eff.Owner),
			OwnerType: string(eff.Owner.Type),
			OwnerID:   eff.Owner.ID,
			CreatedAt: now,
		}
	case err != nil:
		return fmt.Errorf("loading subscription list: %w", err)
	}

	upsertItem(&list, toSnapshotDoc(eff.Snapshot))
	if eff.Owner.Type == billing.OwnerTypeLocation {
		list.PayerID = eff.Owner.Payer()
	}
	if card := toCardDoc(eff.Card); card != nil {
		list.Card = card
	}
	list.UpdatedAt = now

	replaceOpts := options.Replace().SetUpsert(true)
	if _, err := s.lists().ReplaceOne(ctx, bson.M{"_id": list.ID}, list, replaceOpts); err != nil {
		return fmt.Errorf("saving subscription list: %w", err)
	}

	if _, err := s.history().InsertOne(ctx, toHistoryDoc(eff.History)); err != nil {
		return fmt.Errorf("appending history item: %w", err)
	}

	indexUpdate := bson.M{"$set": ownerIndexDoc{
		ID:         eff.Snapshot.SubscriptionID,
		OwnerType:  string(eff.Owner.Type),
		OwnerID:    eff.Owner.ID,
		PayerID:    eff.Owner.PayerID,
		CustomerID: eff.CustomerID,
		UpdatedAt:  now,
	}}
	upsertOpts := options.UpdateOne().SetUpsert(true)
	if _, err := s.owners().UpdateOne(ctx, bson.M{"_id": eff.Snapshot.SubscriptionID}, indexUpdate, upsertOpts); err != nil {
		return fmt.Errorf("updating owner index: %w", err)
	}

	coll, err := s.ownerColl(eff.Owner.Type)
	if err != nil {
		return err
	}
	flagUpdate := bson.M{"$set": bson.M{entitlementField: eff.Entitled, "updated_at": now}}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": eff.Owner.ID}, flagUpdate); err != nil {
		return fmt.Errorf("updating entitlement flag: %w", err)
	}

	return nil
}

// upsertItem replaces the snapshot with the matching subscription id or
// appends a new one. List membership is keyed by subscription id; a
// duplicate checkout for a known subscription never appends a second entry.
func upsertItem(list *subscriptionListDoc, item snapshotDoc) {
	for i := range list.Items {
		if list.Items[i].SubscriptionID == item.SubscriptionID {
			list.Items[i] = item
			return
		}
	}
	list.Items = append(list.Items, item)
}

// ResolveOwner maps a subscription id to its owner through the reverse
// index, falling back to an indexed lookup over the lists for records that
// predate the index. A miss is ErrOwnerNotFound so the caller can surface
// a retryable failure without marking the event processed.
func (s *Store) ResolveOwner(ctx context.Context, subscriptionID string) (billing.OwnerRef, error) {
	if subscriptionID == "" {
		return billing.OwnerRef{}, billing.ErrOwnerNotFound
	}

	var idx ownerIndexDoc
	err := s.owners().FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&idx)
	if err == nil {
		return fromOwnerIndexDoc(idx), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return billing.OwnerRef{}, fmt.Errorf("querying owner index: %w", err)
	}

	var list subscriptionListDoc
	err = s.lists().FindOne(ctx, bson.M{"items.subscription_id": subscriptionID}).Decode(&list)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return billing.OwnerRef{}, billing.ErrOwnerNotFound
	}
	if err != nil {
		return billing.OwnerRef{}, fmt.Errorf("scanning subscription lists: %w", err)
	}
	return billing.OwnerRef{
		Type:    billing.OwnerType(list.OwnerType),
		ID:      list.OwnerID,
		PayerID: list.PayerID,
	}, nil
}

// ResolveOwnerByCustomer maps a provider customer id to the owner whose
// subscriptions reference it.
func (s *Store) ResolveOwnerByCustomer(ctx context.Context, customerID string) (billing.OwnerRef, error) {
	if customerID == "" {
		return billing.OwnerRef{}, billing.ErrOwnerNotFound
	}

	var idx ownerIndexDoc
	err := s.owners().FindOne(ctx, bson.M{"customer_id": customerID}).Decode(&idx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return billing.OwnerRef{}, billing.ErrOwnerNotFound
	}
	if err != nil {
		return billing.OwnerRef{}, fmt.Errorf("querying owner index by customer: %w", err)
	}
	return fromOwnerIndexDoc(idx), nil
}

// UpdateCard refreshes the owner's last-known card. Not a billing state
// change, so no transaction and no history item.
func (s *Store) UpdateCard(ctx context.Context, owner billing.OwnerRef, card billing.CardSummary) error {
	if !owner.Valid() {
		return billing.ErrInvalidOwner
	}
	update := bson.M{"$set": bson.M{"card": toCardDoc(&card), "updated_at": time.Now().UTC()}}
	if _, err := s.lists().UpdateOne(ctx, bson.M{"_id": listKey(owner)}, update); err != nil {
		return fmt.Errorf("updating card summary: %w", err)
	}
	return nil
}

// GetSubscriptionList returns the owner's list.
func (s *Store) GetSubscriptionList(ctx context.Context, owner billing.OwnerRef) (*billing.SubscriptionList, error) {
	var doc subscriptionListDoc
	err := s.lists().FindOne(ctx, bson.M{"_id": listKey(owner)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, billing.ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscription list: %w", err)
	}

	list := &billing.SubscriptionList{
		Owner: billing.OwnerRef{
			Type:    billing.OwnerType(doc.OwnerType),
			ID:      doc.OwnerID,
			PayerID: doc.PayerID,
		},
		Card:      fromCardDoc(doc.Card),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		list.Items = append(list.Items, fromSnapshotDoc(item))
	}
	return list, nil
}

// ListHistory returns the owner's billing history, newest first.
func (s *Store) ListHistory(ctx context.Context, owner billing.OwnerRef, limit int64) ([]billing.HistoryItem, error) {
	filter := bson.M{"owner_type": string(owner.Type), "owner_id": owner.ID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.history().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}

	var docs []historyItemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	items := make([]billing.HistoryItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, fromHistoryDoc(d))
	}
	return items, nil
}

// RevokeLapsedEntitlements finds owners whose every snapshot is out of its
// grace window at the given time and clears their entitlement flag.
func (s *Store) RevokeLapsedEntitlements(ctx context.Context, now time.Time) (int64, error) {
	graceStatuses := bson.A{
		string(billing.StatusCanceled),
		string(billing.StatusPastDue),
		string(billing.StatusUnpaid),
	}
	entitledItem := bson.M{"$or": bson.A{
		bson.M{"status": string(billing.StatusActive)},
		bson.M{"status": bson.M{"$in": graceStatuses}, "current_period_end": bson.M{"$gt": now}},
	}}
	lapsed := bson.M{
		"items.0": bson.M{"$exists": true},
		"$nor":    bson.A{bson.M{"items": bson.M{"$elemMatch": entitledItem}}},
	}

	cursor, err := s.lists().Find(ctx, lapsed)
	if err != nil {
		return 0, fmt.Errorf("querying lapsed lists: %w", err)
	}
	var lists []subscriptionListDoc
	if err := cursor.All(ctx, &lists); err != nil {
		return 0, fmt.Errorf("decoding lapsed lists: %w", err)
	}

	ids := map[billing.OwnerType][]string{}
	for _, l := range lists {
		t := billing.OwnerType(l.OwnerType)
		ids[t] = append(ids[t], l.OwnerID)
	}

	var revoked int64
	for t, ownerIDs := range ids {
		coll, err := s.ownerColl(t)
		if err != nil {
			continue
		}
		filter := bson.M{"_id": bson.M{"$in": ownerIDs}, entitlementField: true}
		update := bson.M{"$set": bson.M{entitlementField: false, "updated_at": now}}
		res, err := coll.UpdateMany(ctx, filter, update)
		if err != nil {
			return revoked, fmt.Errorf("revoking %s entitlements: %w", t, err)
		}
		revoked += res.ModifiedCount
	}
	return revoked, nil
}

// isTransient reports whether the error carries a transaction label the
// driver uses for retryable aborts (write-write conflicts and unknown
// commit outcomes).
func isTransient(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("TransientTransactionError") ||
			se.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return false
}
