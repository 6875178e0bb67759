// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/dymelabs/tastecore/internal/models"
)

// PutReview stores a review document together with its author and
// restaurant index entries. Reviews are immutable; re-putting the same
// review (duplicate event delivery) simply overwrites identical bytes.
func (s *Store) PutReview(ctx context.Context, review *models.Review) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if !review.Valid() {
		return fmt.Errorf("review missing id, author or restaurant")
	}

	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, reviewKeyPrefix+review.ID, review); err != nil {
			return err
		}
		authorKey := reviewAuthorPrefix + review.AuthorID + ":" + review.ID
		if err := txn.Set([]byte(authorKey), []byte(review.ID)); err != nil {
			return fmt.Errorf("set author index: %w", err)
		}
		subjectKey := reviewSubjectPrefix + review.RestaurantID + ":" + review.ID
		if err := txn.Set([]byte(subjectKey), []byte(review.ID)); err != nil {
			return fmt.Errorf("set restaurant index: %w", err)
		}
		return nil
	})
}

// GetReview retrieves a review by ID.
func (s *Store) GetReview(ctx context.Context, id string) (*models.Review, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var review models.Review
	if err := s.viewJSON(reviewKeyPrefix+id, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ReviewsByAuthor returns all reviews written by the given user.
func (s *Store) ReviewsByAuthor(ctx context.Context, authorID string) ([]models.Review, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}
	return s.reviewsByIndex(reviewAuthorPrefix + authorID + ":")
}

// ReviewsByRestaurant returns all reviews attached to the given restaurant.
func (s *Store) ReviewsByRestaurant(ctx context.Context, restaurantID string) ([]models.Review, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}
	return s.reviewsByIndex(reviewSubjectPrefix + restaurantID + ":")
}

// ReviewsByAuthors returns the union of reviews written by any of the given
// users. This is the "authorId in members" predicate backing group
// aggregation.
func (s *Store) ReviewsByAuthors(ctx context.Context, authorIDs []string) ([]models.Review, error) {
	var all []models.Review
	for _, id := range authorIDs {
		if err := requireCtx(ctx); err != nil {
			return nil, err
		}
		reviews, err := s.reviewsByIndex(reviewAuthorPrefix + id + ":")
		if err != nil {
			return nil, err
		}
		all = append(all, reviews...)
	}
	return all, nil
}

// CountReviewsByAuthor counts a user's reviews without decoding them.
func (s *Store) CountReviewsByAuthor(ctx context.Context, authorID string) (int, error) {
	if err := requireCtx(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reviewAuthorPrefix + authorID + ":")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// reviewsByIndex resolves review documents through an index prefix inside a
// single read transaction, so the result reflects one consistent snapshot.
func (s *Store) reviewsByIndex(prefix string) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, prefix)
		if err != nil {
			return err
		}
		reviews = make([]models.Review, 0, len(ids))
		for _, id := range ids {
			var review models.Review
			if err := getJSON(txn, reviewKeyPrefix+id, &review); err != nil {
				return fmt.Errorf("resolve review %s: %w", id, err)
			}
			reviews = append(reviews, review)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// PutStory stores a story document. Stories feed no aggregate; they are
// persisted for the application's feed surface only.
func (s *Store) PutStory(ctx context.Context, story *models.Story) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if story.ID == "" {
		return fmt.Errorf("story id required")
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, storyKeyPrefix+story.ID, story)
	})
}
