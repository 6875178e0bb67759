// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/models"
	"github.com/dymelabs/tastecore/internal/rewards"
	"github.com/dymelabs/tastecore/internal/store"
	"github.com/dymelabs/tastecore/internal/taste"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	ledger := rewards.NewLedger(st, zerolog.Nop())
	return New(st, ledger, zerolog.Nop()), st
}

func seedUser(t *testing.T, st *store.Store, id string) {
	t.Helper()
	err := st.PutUser(context.Background(), &models.User{
		ID:    id,
		Email: id + "@example.com",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedRestaurant(t *testing.T, st *store.Store, id string) {
	t.Helper()
	err := st.PutRestaurant(context.Background(), &models.Restaurant{
		ID:        id,
		Name:      "Restaurant " + id,
		Signature: map[string]float64{},
	})
	if err != nil {
		t.Fatalf("seed restaurant %s: %v", id, err)
	}
}

func reviewEvent(id, author, restaurant string, dial map[string]float64) *ReviewCreatedEvent {
	return &ReviewCreatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       "ev-" + id,
		OccurredAt:    time.Now().UTC(),
		Review: models.Review{
			ID:           id,
			AuthorID:     author,
			RestaurantID: restaurant,
			TasteDial:    dial,
			CreatedAt:    time.Now().UTC(),
		},
	}
}

func TestHandleReviewCreated_UpdatesAggregatesAndAwards(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "alice")
	seedRestaurant(t, st, "r1")

	g := &models.Group{ID: "g1", Name: "Lunch crew", CreatedBy: "alice", Members: []string{"alice"}}
	if err := st.PutGroup(ctx, g); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	events := []*ReviewCreatedEvent{
		reviewEvent("rev1", "alice", "r1", map[string]float64{taste.DimensionRichness: 4, taste.DimensionSpiciness: 3}),
		reviewEvent("rev2", "alice", "r1", map[string]float64{taste.DimensionRichness: 2}),
	}
	for _, ev := range events {
		if err := eng.HandleReviewCreated(ctx, ev); err != nil {
			t.Fatalf("handle %s: %v", ev.EventID, err)
		}
	}

	restaurant, err := st.GetRestaurant(ctx, "r1")
	if err != nil {
		t.Fatalf("get restaurant: %v", err)
	}
	if restaurant.ReviewCount != 2 {
		t.Errorf("restaurant review count = %d, want 2", restaurant.ReviewCount)
	}
	if got := restaurant.Signature[taste.DimensionRichness]; got != 3 {
		t.Errorf("restaurant richness = %v, want 3", got)
	}
	if got := restaurant.Signature[taste.DimensionSpiciness]; got != 3 {
		t.Errorf("restaurant spiciness = %v, want 3", got)
	}

	group, err := st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.ReviewCount != 2 {
		t.Errorf("group review count = %d, want 2", group.ReviewCount)
	}
	if got := group.Signature[taste.DimensionRichness]; got != 3 {
		t.Errorf("group richness = %v, want 3", got)
	}

	user, err := st.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != 2*rewards.PointsReview {
		t.Errorf("points = %d, want %d", user.Points, 2*rewards.PointsReview)
	}
	if user.CrestRevealed {
		t.Error("crest revealed below threshold")
	}
}

func TestHandleReviewCreated_DuplicateDeliveryAwardsOnce(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "alice")
	seedRestaurant(t, st, "r1")

	ev := reviewEvent("rev1", "alice", "r1", map[string]float64{taste.DimensionRichness: 5})
	for i := 0; i < 3; i++ {
		if err := eng.HandleReviewCreated(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	user, err := st.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != rewards.PointsReview {
		t.Errorf("points = %d, want %d after duplicate delivery", user.Points, rewards.PointsReview)
	}

	restaurant, err := st.GetRestaurant(ctx, "r1")
	if err != nil {
		t.Fatalf("get restaurant: %v", err)
	}
	if restaurant.ReviewCount != 1 {
		t.Errorf("restaurant review count = %d, want 1", restaurant.ReviewCount)
	}
}

func TestRevelation_FifteenthReviewFiresOnce(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "alice")
	seedRestaurant(t, st, "r1")

	dial := map[string]float64{taste.DimensionRichness: 4, taste.DimensionSpiciness: 2}
	var last *ReviewCreatedEvent
	for i := 1; i <= RevelationThreshold; i++ {
		last = reviewEvent(fmt.Sprintf("rev%02d", i), "alice", "r1", dial)
		if err := eng.HandleReviewCreated(ctx, last); err != nil {
			t.Fatalf("review %d: %v", i, err)
		}

		user, err := st.GetUser(ctx, "alice")
		if err != nil {
			t.Fatalf("get user after review %d: %v", i, err)
		}
		if i < RevelationThreshold && user.CrestRevealed {
			t.Fatalf("crest revealed after %d reviews", i)
		}
	}

	user, err := st.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.CrestRevealed {
		t.Fatal("crest not revealed at threshold")
	}
	// Richness 4 > Spiciness 2; mean-of-means 3 under the intensity
	// threshold; no Sweetness signal; variance of {4,2}x15 is 1.
	if user.PersonalityCode != "RMVN" {
		t.Errorf("personality code = %q, want RMVN", user.PersonalityCode)
	}
	wantPoints := int64(RevelationThreshold)*rewards.PointsReview + rewards.PointsRevelation
	if user.Points != wantPoints {
		t.Errorf("points = %d, want %d", user.Points, wantPoints)
	}

	// Redelivering the threshold-crossing event changes nothing.
	if err := eng.HandleReviewCreated(ctx, last); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	user, err = st.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user after redelivery: %v", err)
	}
	if user.Points != wantPoints {
		t.Errorf("points after redelivery = %d, want %d", user.Points, wantPoints)
	}
	if user.PersonalityCode != "RMVN" {
		t.Errorf("personality code after redelivery = %q, want RMVN", user.PersonalityCode)
	}
}

func TestHandleTipUpdated_VerifiesAtThresholdOnce(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "bob")

	below := &TipUpdatedEvent{
		EventID: "ev-t1",
		After:   models.Tip{ID: "t1", AuthorID: "bob", Upvotes: VerificationThreshold - 1},
	}
	if err := eng.HandleTipUpdated(ctx, below); err != nil {
		t.Fatalf("below threshold: %v", err)
	}

	tip, err := st.GetTip(ctx, "t1")
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	if tip.Verified {
		t.Error("tip verified below threshold")
	}

	at := &TipUpdatedEvent{
		EventID: "ev-t2",
		Before:  &below.After,
		After:   models.Tip{ID: "t1", AuthorID: "bob", Upvotes: VerificationThreshold},
	}
	for i := 0; i < 2; i++ {
		if err := eng.HandleTipUpdated(ctx, at); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	tip, err = st.GetTip(ctx, "t1")
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	if !tip.Verified {
		t.Error("tip not verified at threshold")
	}

	user, err := st.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != rewards.PointsTip {
		t.Errorf("points = %d, want %d", user.Points, rewards.PointsTip)
	}
}

func TestHandleTipUpdated_EventStateNeverClearsVerified(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "bob")

	verify := &TipUpdatedEvent{
		EventID: "ev-t1",
		After:   models.Tip{ID: "t1", AuthorID: "bob", Upvotes: VerificationThreshold},
	}
	if err := eng.HandleTipUpdated(ctx, verify); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A stale redelivery carrying Verified=false must not unverify.
	stale := &TipUpdatedEvent{
		EventID: "ev-t0",
		After:   models.Tip{ID: "t1", AuthorID: "bob", Upvotes: VerificationThreshold + 2, Verified: false},
	}
	if err := eng.HandleTipUpdated(ctx, stale); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}

	tip, err := st.GetTip(ctx, "t1")
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	if !tip.Verified {
		t.Error("verified flag cleared by incoming event state")
	}
	user, err := st.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != rewards.PointsTip {
		t.Errorf("points = %d, want %d", user.Points, rewards.PointsTip)
	}
}

func TestHandleSubmissionUpdated_ApprovalCreatesRestaurantOnce(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "carol")

	pending := models.Submission{
		ID:          "sub1",
		Name:        "Noodle Bar",
		City:        "Austin",
		SubmittedBy: "carol",
		Status:      models.SubmissionPending,
	}
	if err := eng.HandleSubmissionUpdated(ctx, &SubmissionUpdatedEvent{EventID: "ev-s1", After: pending}); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := st.GetRestaurant(ctx, RestaurantIDForSubmission("sub1")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("restaurant created before approval, err = %v", err)
	}

	approved := pending
	approved.Status = models.SubmissionApproved
	ev := &SubmissionUpdatedEvent{EventID: "ev-s2", Before: &pending, After: approved}
	for i := 0; i < 2; i++ {
		if err := eng.HandleSubmissionUpdated(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	restaurant, err := st.GetRestaurant(ctx, RestaurantIDForSubmission("sub1"))
	if err != nil {
		t.Fatalf("get restaurant: %v", err)
	}
	if restaurant.Name != "Noodle Bar" || restaurant.CreatedBy != "carol" {
		t.Errorf("restaurant = %+v, want fields copied from submission", restaurant)
	}

	sub, err := st.GetSubmission(ctx, "sub1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if !sub.Processed {
		t.Error("submission not marked processed")
	}

	user, err := st.GetUser(ctx, "carol")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != rewards.PointsSubmission {
		t.Errorf("points = %d, want %d", user.Points, rewards.PointsSubmission)
	}
}

func TestHandleSubmissionUpdated_RejectionIsInert(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "carol")

	rejected := models.Submission{
		ID:          "sub1",
		Name:        "Noodle Bar",
		SubmittedBy: "carol",
		Status:      models.SubmissionRejected,
	}
	if err := eng.HandleSubmissionUpdated(ctx, &SubmissionUpdatedEvent{EventID: "ev-s1", After: rejected}); err != nil {
		t.Fatalf("rejected: %v", err)
	}

	if _, err := st.GetRestaurant(ctx, RestaurantIDForSubmission("sub1")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("restaurant created for rejected submission, err = %v", err)
	}
	user, err := st.GetUser(ctx, "carol")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Points != 0 {
		t.Errorf("points = %d, want 0", user.Points)
	}
}

func TestHandleGroupUpdated_MembershipChangeReshapesSignature(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, st, "alice")
	seedUser(t, st, "bob")
	seedRestaurant(t, st, "r1")

	reviews := []*ReviewCreatedEvent{
		reviewEvent("rev1", "alice", "r1", map[string]float64{taste.DimensionRichness: 5}),
		reviewEvent("rev2", "bob", "r1", map[string]float64{taste.DimensionRichness: 1}),
	}
	for _, ev := range reviews {
		if err := eng.HandleReviewCreated(ctx, ev); err != nil {
			t.Fatalf("handle %s: %v", ev.EventID, err)
		}
	}

	created := models.Group{ID: "g1", Name: "Duo", CreatedBy: "alice", Members: []string{"alice"}}
	if err := eng.HandleGroupUpdated(ctx, &GroupUpdatedEvent{EventID: "ev-g1", After: created}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	group, err := st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got := group.Signature[taste.DimensionRichness]; got != 5 {
		t.Errorf("solo richness = %v, want 5", got)
	}

	expanded := created
	expanded.Members = []string{"alice", "bob"}
	if err := eng.HandleGroupUpdated(ctx, &GroupUpdatedEvent{EventID: "ev-g2", Before: &created, After: expanded}); err != nil {
		t.Fatalf("expand group: %v", err)
	}

	group, err = st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got := group.Signature[taste.DimensionRichness]; got != 3 {
		t.Errorf("duo richness = %v, want 3", got)
	}
	if group.ReviewCount != 2 {
		t.Errorf("duo review count = %d, want 2", group.ReviewCount)
	}
}

func TestConsume_MalformedPayloadIsAcked(t *testing.T) {
	eng, _ := newTestEngine(t)

	handler := consume[ReviewCreatedEvent](TopicReviewCreated, eng.HandleReviewCreated, watermill.NopLogger{})

	msg := message.NewMessage("m1", []byte(`{"event_id": 42`))
	msg.SetContext(context.Background())
	if err := handler(msg); err != nil {
		t.Errorf("malformed payload returned %v, want nil (ack)", err)
	}

	// Structurally valid JSON that fails validation is equally permanent.
	msg = message.NewMessage("m2", []byte(`{"event_id":"e1","review":{"id":"rev1"}}`))
	msg.SetContext(context.Background())
	if err := handler(msg); err != nil {
		t.Errorf("invalid event returned %v, want nil (ack)", err)
	}
}
