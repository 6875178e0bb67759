// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const markerKeyPrefix = "marker:"

// MarkOnce records that the named side effect has been performed and reports
// whether this call was the first to record it. The check and the write share
// one serializable transaction, so under duplicate event delivery exactly one
// caller sees first == true.
func (s *Store) MarkOnce(ctx context.Context, name string) (bool, error) {
	if err := requireCtx(ctx); err != nil {
		return false, err
	}
	if name == "" {
		return false, errors.New("marker name required")
	}

	key := []byte(markerKeyPrefix + name)
	first := false
	err := s.update(func(txn *badger.Txn) error {
		first = false
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get marker %s: %w", name, err)
		}
		if err := txn.Set(key, []byte{1}); err != nil {
			return fmt.Errorf("set marker %s: %w", name, err)
		}
		first = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}
