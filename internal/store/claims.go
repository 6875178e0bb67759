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

// PutTip stores a tip document.
func (s *Store) PutTip(ctx context.Context, tip *models.Tip) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if tip.ID == "" {
		return fmt.Errorf("tip id required")
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, tipKeyPrefix+tip.ID, tip)
	})
}

// GetTip retrieves a tip by ID.
func (s *Store) GetTip(ctx context.Context, id string) (*models.Tip, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var tip models.Tip
	if err := s.viewJSON(tipKeyPrefix+id, &tip); err != nil {
		return nil, err
	}
	return &tip, nil
}

// UpdateTip applies fn to the current persisted tip. Same compare-and-set
// contract as UpdateUser; the verification transition relies on fn observing
// the persisted Verified flag, not a value read earlier.
func (s *Store) UpdateTip(ctx context.Context, id string, fn func(t *models.Tip) (bool, error)) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var tip models.Tip
		if err := getJSON(txn, tipKeyPrefix+id, &tip); err != nil {
			return err
		}
		write, err := fn(&tip)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return setJSON(txn, tipKeyPrefix+id, &tip)
	})
}

// PutSubmission stores a submission document.
func (s *Store) PutSubmission(ctx context.Context, sub *models.Submission) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if sub.ID == "" {
		return fmt.Errorf("submission id required")
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, submissionKeyPrefix+sub.ID, sub)
	})
}

// GetSubmission retrieves a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var sub models.Submission
	if err := s.viewJSON(submissionKeyPrefix+id, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubmission applies fn to the current persisted submission. Same
// compare-and-set contract as UpdateUser.
func (s *Store) UpdateSubmission(ctx context.Context, id string, fn func(sub *models.Submission) (bool, error)) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var sub models.Submission
		if err := getJSON(txn, submissionKeyPrefix+id, &sub); err != nil {
			return err
		}
		write, err := fn(&sub)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return setJSON(txn, submissionKeyPrefix+id, &sub)
	})
}
