// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package store provides the BadgerDB-backed document store for all shared
// records: users, reviews, restaurants, groups, tips, and submissions.
//
// The store exposes the primitives the trigger engine relies on:
//
//   - point reads and writes per collection
//   - transactional read-modify-write (compare-and-set) via the Update*
//     methods, with automatic retry on transaction conflict
//   - atomic numeric increment (AddPoints)
//   - set-union append (AddGroupMember)
//   - predicate queries over index key prefixes
//
// Badger transactions are serializable; a conflicting concurrent commit
// surfaces as badger.ErrConflict and the mutation closure is re-run against
// fresh state. That re-run is what makes the engine's threshold transitions
// safe under duplicate event delivery.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrNotFound indicates the referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// Key prefixes per collection. Index keys map a query attribute to a primary
// document ID and are written in the same transaction as the document.
const (
	userKeyPrefix       = "user:"
	userEmailKeyPrefix  = "user_email:"
	reviewKeyPrefix     = "review:"
	reviewAuthorPrefix  = "review_author:"     // review_author:<authorID>:<reviewID>
	reviewSubjectPrefix = "review_restaurant:" // review_restaurant:<restaurantID>:<reviewID>
	restaurantKeyPrefix = "restaurant:"
	groupKeyPrefix      = "group:"
	groupMemberPrefix   = "group_member:" // group_member:<userID>:<groupID>
	tipKeyPrefix        = "tip:"
	submissionKeyPrefix = "submission:"
	storyKeyPrefix      = "story:"
)

// maxTxnRetries bounds the conflict-retry loop for read-modify-write
// transactions. Conflicts are rare (two triggers touching the same document
// in the same instant), so a handful of retries is plenty.
const maxTxnRetries = 8

// Config holds store configuration.
type Config struct {
	// Path is the BadgerDB data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence. Used by tests.
	InMemory bool
}

// Store is a BadgerDB-backed document store. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the document store.
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store path required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflict so that
// read-modify-write mutations behave as compare-and-set against fresh state.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug().Int("attempt", i+1).Msg("transaction conflict, retrying")
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", maxTxnRetries, err)
}

// getJSON reads and decodes a document inside txn.
func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// setJSON encodes and writes a document inside txn.
func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// viewJSON reads a single document in its own read transaction.
func (s *Store) viewJSON(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, v)
	})
}

// scanIDs collects the ID values stored under an index prefix.
func scanIDs(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
	}
	return ids, nil
}

// requireCtx returns the context error, if any, so that long predicate scans
// respect cancellation between transactions.
func requireCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation canceled: %w", err)
	}
	return nil
}

// badgerLogger adapts zerolog to badger.Logger. Badger's INFO output is
// chatty (compaction, vlog GC), so it is mapped down to debug.
type badgerLogger struct {
	logger zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error().Msgf(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn().Msgf(format, args...)
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug().Msgf(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug().Msgf(format, args...)
}
