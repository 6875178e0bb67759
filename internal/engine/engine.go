// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package engine implements the trigger handlers: it consumes document change
// events, materializes the documents into the store, recomputes taste
// signatures, fires one-time threshold transitions, and grants reputation
// points.
//
// Handlers run under at-least-once delivery. Every side effect is therefore
// idempotent: recomputes converge because they rebuild aggregates from the
// full evidence set, threshold transitions are guarded by compare-and-set
// flags on the target document, and fixed point awards are guarded by
// per-event markers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/metrics"
	"github.com/dymelabs/tastecore/internal/models"
	"github.com/dymelabs/tastecore/internal/rewards"
	"github.com/dymelabs/tastecore/internal/store"
	"github.com/dymelabs/tastecore/internal/taste"
)

// Threshold constants for one-time transitions.
const (
	// RevelationThreshold is the review count at which an author's
	// personality crest is revealed.
	RevelationThreshold = 15

	// VerificationThreshold is the upvote count at which a tip becomes
	// verified.
	VerificationThreshold = 3
)

// restaurantIDNamespace derives stable restaurant IDs from approved
// submissions, so a re-approved duplicate event recreates the same document
// instead of a second one.
var restaurantIDNamespace = uuid.MustParse("7b1e3f9a-4c2d-4e8f-9a6b-1d5c8e7f2a30")

// Engine owns the event-driven aggregation and reward logic.
type Engine struct {
	store  *store.Store
	ledger *rewards.Ledger
	logger zerolog.Logger
}

// New creates an engine over the given store and ledger.
func New(st *store.Store, ledger *rewards.Ledger, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		ledger: ledger,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// HandleReviewCreated materializes the review and fans out its consequences:
// the restaurant signature, the author's revelation check, every group the
// author belongs to, and the authorship award. The branches are independent,
// so they run concurrently and their failures are joined; any failure nacks
// the event and the whole handler re-runs, which is safe because each branch
// is individually idempotent.
func (e *Engine) HandleReviewCreated(ctx context.Context, ev *ReviewCreatedEvent) error {
	review := ev.Review
	if err := e.store.PutReview(ctx, &review); err != nil {
		return fmt.Errorf("persist review %s: %w", review.ID, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)

	wg.Add(4)
	go func() {
		defer wg.Done()
		errs[0] = e.RecomputeRestaurantSignature(ctx, review.RestaurantID)
	}()
	go func() {
		defer wg.Done()
		errs[1] = e.CheckRevelation(ctx, review.AuthorID)
	}()
	go func() {
		defer wg.Done()
		errs[2] = e.recomputeGroupsForMember(ctx, review.AuthorID)
	}()
	go func() {
		defer wg.Done()
		errs[3] = e.awardReviewOnce(ctx, ev.EventID, review)
	}()
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("review %s: %w", review.ID, err)
	}

	e.logger.Debug().
		Str("review_id", review.ID).
		Str("restaurant_id", review.RestaurantID).
		Str("author_id", review.AuthorID).
		Msg("review processed")
	return nil
}

// awardReviewOnce grants the authorship points at most once per review, keyed
// on the review ID so broker-level redelivery and republished events both
// collapse to a single grant.
func (e *Engine) awardReviewOnce(ctx context.Context, eventID string, review models.Review) error {
	first, err := e.store.MarkOnce(ctx, "review_award:"+review.ID)
	if err != nil {
		return fmt.Errorf("mark review award: %w", err)
	}
	if !first {
		e.logger.Debug().
			Str("review_id", review.ID).
			Str("event_id", eventID).
			Msg("duplicate review delivery, award already granted")
		return nil
	}
	return e.ledger.Award(ctx, review.AuthorID, rewards.PointsReview, rewards.ReasonReview)
}

// RecomputeRestaurantSignature rebuilds a restaurant's signature from all of
// its reviews. The evidence read and the document write are separate
// transactions: with concurrent recomputes the last writer wins, and the next
// review converges the aggregate again.
func (e *Engine) RecomputeRestaurantSignature(ctx context.Context, restaurantID string) error {
	start := time.Now()

	reviews, err := e.store.ReviewsByRestaurant(ctx, restaurantID)
	if err != nil {
		return fmt.Errorf("load reviews for restaurant %s: %w", restaurantID, err)
	}
	sig, count := taste.Aggregate(reviews)

	err = e.store.UpdateRestaurant(ctx, restaurantID, func(r *models.Restaurant) (bool, error) {
		r.Signature = sig
		r.ReviewCount = count
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// The review references a restaurant that was never materialized.
		// Retrying cannot fix that, so log and move on.
		e.logger.Warn().Str("restaurant_id", restaurantID).Msg("recompute skipped, restaurant unknown")
		return nil
	}
	if err != nil {
		return fmt.Errorf("update restaurant %s: %w", restaurantID, err)
	}

	metrics.RecordRecompute("restaurant", time.Since(start))
	return nil
}

// RecomputeGroupSignature rebuilds a group's signature from its members'
// reviews.
func (e *Engine) RecomputeGroupSignature(ctx context.Context, groupID string) error {
	start := time.Now()

	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group %s: %w", groupID, err)
	}

	reviews, err := e.store.ReviewsByAuthors(ctx, group.Members)
	if err != nil {
		return fmt.Errorf("load member reviews for group %s: %w", groupID, err)
	}
	sig, count := taste.Aggregate(reviews)

	err = e.store.UpdateGroup(ctx, groupID, func(g *models.Group) (bool, error) {
		g.Signature = sig
		g.ReviewCount = count
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("update group %s: %w", groupID, err)
	}

	metrics.RecordRecompute("group", time.Since(start))
	return nil
}

func (e *Engine) recomputeGroupsForMember(ctx context.Context, userID string) error {
	groups, err := e.store.GroupsWithMember(ctx, userID)
	if err != nil {
		return fmt.Errorf("load groups for member %s: %w", userID, err)
	}

	var errs []error
	for _, g := range groups {
		if err := e.RecomputeGroupSignature(ctx, g.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckRevelation fires the personality crest transition when the author's
// review count first reaches RevelationThreshold. The personality code is
// classified from the full review history at transition time and then frozen:
// the CrestRevealed flag is flipped inside a compare-and-set update, so of N
// concurrent or duplicate deliveries exactly one wins the transition and
// grants the revelation points.
func (e *Engine) CheckRevelation(ctx context.Context, authorID string) error {
	count, err := e.store.CountReviewsByAuthor(ctx, authorID)
	if err != nil {
		return fmt.Errorf("count reviews for %s: %w", authorID, err)
	}
	if count < RevelationThreshold {
		return nil
	}

	reviews, err := e.store.ReviewsByAuthor(ctx, authorID)
	if err != nil {
		return fmt.Errorf("load reviews for %s: %w", authorID, err)
	}
	sig, _ := taste.Aggregate(reviews)
	code := taste.Classify(sig, taste.Ratings(reviews))

	fired := false
	err = e.store.UpdateUser(ctx, authorID, func(u *models.User) (bool, error) {
		fired = false
		if u.CrestRevealed {
			return false, nil
		}
		u.PersonalityCode = code
		u.CrestRevealed = true
		fired = true
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn().Str("author_id", authorID).Msg("revelation skipped, user unknown")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reveal crest for %s: %w", authorID, err)
	}
	if !fired {
		return nil
	}

	metrics.RevelationsTotal.Inc()
	e.logger.Info().
		Str("author_id", authorID).
		Str("personality_code", code).
		Int("review_count", count).
		Msg("personality crest revealed")
	return e.ledger.Award(ctx, authorID, rewards.PointsRevelation, rewards.ReasonRevelation)
}

// HandleTipUpdated materializes the tip and fires the verification transition
// when upvotes first reach VerificationThreshold. Verified is engine-owned:
// the incoming document state never clears it, and the false->true flip is
// compare-and-set so the author is rewarded exactly once.
func (e *Engine) HandleTipUpdated(ctx context.Context, ev *TipUpdatedEvent) error {
	// Only a write that actually changed upvotes can fire the transition; an
	// unrelated edit delivering the same count must not.
	upvotesChanged := ev.Before == nil || ev.Before.Upvotes != ev.After.Upvotes

	fired := false
	apply := func(t *models.Tip) (bool, error) {
		fired = false
		t.AuthorID = ev.After.AuthorID
		t.Body = ev.After.Body
		t.Upvotes = ev.After.Upvotes
		t.CreatedAt = ev.After.CreatedAt
		if upvotesChanged && !t.Verified && t.Upvotes >= VerificationThreshold {
			t.Verified = true
			fired = true
		}
		return true, nil
	}

	err := e.store.UpdateTip(ctx, ev.After.ID, apply)
	if errors.Is(err, store.ErrNotFound) {
		seed := ev.After
		seed.Verified = false
		if err := e.store.PutTip(ctx, &seed); err != nil {
			return fmt.Errorf("materialize tip %s: %w", seed.ID, err)
		}
		err = e.store.UpdateTip(ctx, ev.After.ID, apply)
	}
	if err != nil {
		return fmt.Errorf("update tip %s: %w", ev.After.ID, err)
	}
	if !fired {
		return nil
	}

	metrics.TipVerificationsTotal.Inc()
	e.logger.Info().
		Str("tip_id", ev.After.ID).
		Str("author_id", ev.After.AuthorID).
		Int("upvotes", ev.After.Upvotes).
		Msg("tip verified")
	return e.ledger.Award(ctx, ev.After.AuthorID, rewards.PointsTip, rewards.ReasonTip)
}

// HandleSubmissionUpdated materializes the submission and consumes the
// pending->approved transition: it creates the suggested restaurant and
// rewards the submitter. Processed is engine-owned and flipped compare-and-set,
// so duplicate approval events are no-ops. The created restaurant's ID is
// derived from the submission ID, so even a lost-marker replay overwrites the
// same document instead of creating a second restaurant.
func (e *Engine) HandleSubmissionUpdated(ctx context.Context, ev *SubmissionUpdatedEvent) error {
	fired := false
	apply := func(s *models.Submission) (bool, error) {
		fired = false
		s.Name = ev.After.Name
		s.Address = ev.After.Address
		s.City = ev.After.City
		s.State = ev.After.State
		s.CuisineTags = ev.After.CuisineTags
		s.SubmittedBy = ev.After.SubmittedBy
		s.Status = ev.After.Status
		s.CreatedAt = ev.After.CreatedAt
		if s.Status == models.SubmissionApproved && !s.Processed {
			s.Processed = true
			fired = true
		}
		return true, nil
	}

	err := e.store.UpdateSubmission(ctx, ev.After.ID, apply)
	if errors.Is(err, store.ErrNotFound) {
		seed := ev.After
		seed.Processed = false
		if err := e.store.PutSubmission(ctx, &seed); err != nil {
			return fmt.Errorf("materialize submission %s: %w", seed.ID, err)
		}
		err = e.store.UpdateSubmission(ctx, ev.After.ID, apply)
	}
	if err != nil {
		return fmt.Errorf("update submission %s: %w", ev.After.ID, err)
	}
	if !fired {
		return nil
	}

	restaurant := &models.Restaurant{
		ID:          RestaurantIDForSubmission(ev.After.ID),
		Name:        ev.After.Name,
		Address:     ev.After.Address,
		City:        ev.After.City,
		State:       ev.After.State,
		CuisineTags: ev.After.CuisineTags,
		Signature:   map[string]float64{},
		CreatedBy:   ev.After.SubmittedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.PutRestaurant(ctx, restaurant); err != nil {
		return fmt.Errorf("create restaurant from submission %s: %w", ev.After.ID, err)
	}

	metrics.SubmissionsApprovedTotal.Inc()
	e.logger.Info().
		Str("submission_id", ev.After.ID).
		Str("restaurant_id", restaurant.ID).
		Str("submitted_by", ev.After.SubmittedBy).
		Msg("submission approved, restaurant created")
	return e.ledger.Award(ctx, ev.After.SubmittedBy, rewards.PointsSubmission, rewards.ReasonSubmission)
}

// RestaurantIDForSubmission returns the stable restaurant ID created when the
// given submission is approved.
func RestaurantIDForSubmission(submissionID string) string {
	return uuid.NewSHA1(restaurantIDNamespace, []byte(submissionID)).String()
}

// HandleGroupUpdated materializes the group and recomputes its signature, so
// membership changes immediately reshape the aggregate. Signature and
// ReviewCount are engine-owned and preserved across the upsert.
func (e *Engine) HandleGroupUpdated(ctx context.Context, ev *GroupUpdatedEvent) error {
	apply := func(g *models.Group) (bool, error) {
		g.Name = ev.After.Name
		g.CreatedBy = ev.After.CreatedBy
		g.Members = ev.After.Members
		g.CreatedAt = ev.After.CreatedAt
		return true, nil
	}

	err := e.store.UpdateGroup(ctx, ev.After.ID, apply)
	if errors.Is(err, store.ErrNotFound) {
		seed := ev.After
		seed.Signature = map[string]float64{}
		seed.ReviewCount = 0
		if err := e.store.PutGroup(ctx, &seed); err != nil {
			return fmt.Errorf("materialize group %s: %w", seed.ID, err)
		}
		err = e.store.UpdateGroup(ctx, ev.After.ID, apply)
	}
	if err != nil {
		return fmt.Errorf("update group %s: %w", ev.After.ID, err)
	}

	return e.RecomputeGroupSignature(ctx, ev.After.ID)
}

// HandleStoryCreated materializes the story. No aggregate depends on stories;
// the handler exists so the topic is consumed and visible in logs and metrics.
func (e *Engine) HandleStoryCreated(ctx context.Context, ev *StoryCreatedEvent) error {
	story := ev.Story
	if err := e.store.PutStory(ctx, &story); err != nil {
		return fmt.Errorf("persist story %s: %w", story.ID, err)
	}
	e.logger.Debug().
		Str("story_id", story.ID).
		Str("author_id", story.AuthorID).
		Msg("story recorded")
	return nil
}
