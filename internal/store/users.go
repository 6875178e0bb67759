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

// PutUser stores a user document and its email lookup index.
func (s *Store) PutUser(ctx context.Context, user *models.User) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if user.ID == "" {
		return fmt.Errorf("user id required")
	}

	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, userKeyPrefix+user.ID, user); err != nil {
			return err
		}
		if user.Email != "" {
			if err := txn.Set([]byte(userEmailKeyPrefix+user.Email), []byte(user.ID)); err != nil {
				return fmt.Errorf("set email index: %w", err)
			}
		}
		return nil
	})
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var user models.User
	if err := s.viewJSON(userKeyPrefix+id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserByEmail resolves a user through the email index.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userEmailKeyPrefix + email))
		if err != nil {
			return ErrNotFound
		}
		var userID string
		if err := item.Value(func(val []byte) error {
			userID = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("read email index: %w", err)
		}
		return getJSON(txn, userKeyPrefix+userID, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies fn to the current persisted user inside a transaction.
// fn returns false to abort without writing (the guard condition did not
// hold); returning true persists the mutated document. Conflicting
// concurrent commits re-run fn against fresh state, which is what gives
// threshold transitions their compare-and-set semantics.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(u *models.User) (bool, error)) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var user models.User
		if err := getJSON(txn, userKeyPrefix+id, &user); err != nil {
			return err
		}
		write, err := fn(&user)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return setJSON(txn, userKeyPrefix+id, &user)
	})
}

// AddPoints atomically increments a user's reputation points. Increments
// commute, so concurrent awards from unrelated events never lose updates.
func (s *Store) AddPoints(ctx context.Context, id string, delta int64) error {
	return s.UpdateUser(ctx, id, func(u *models.User) (bool, error) {
		u.Points += delta
		return true, nil
	})
}
