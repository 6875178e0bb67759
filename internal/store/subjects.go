// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/dymelabs/tastecore/internal/models"
)

// PutRestaurant stores a restaurant document.
func (s *Store) PutRestaurant(ctx context.Context, restaurant *models.Restaurant) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if restaurant.ID == "" {
		return fmt.Errorf("restaurant id required")
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, restaurantKeyPrefix+restaurant.ID, restaurant)
	})
}

// GetRestaurant retrieves a restaurant by ID.
func (s *Store) GetRestaurant(ctx context.Context, id string) (*models.Restaurant, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var restaurant models.Restaurant
	if err := s.viewJSON(restaurantKeyPrefix+id, &restaurant); err != nil {
		return nil, err
	}
	return &restaurant, nil
}

// UpdateRestaurant applies fn to the current persisted restaurant. Same
// compare-and-set contract as UpdateUser.
func (s *Store) UpdateRestaurant(ctx context.Context, id string, fn func(r *models.Restaurant) (bool, error)) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var restaurant models.Restaurant
		if err := getJSON(txn, restaurantKeyPrefix+id, &restaurant); err != nil {
			return err
		}
		write, err := fn(&restaurant)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return setJSON(txn, restaurantKeyPrefix+id, &restaurant)
	})
}

// RestaurantsByDimension returns up to limit restaurants that have the given
// dimension populated in their signature, ordered by that dimension's mean
// descending. Ties order by ID ascending so results are stable. Restaurants
// without the dimension are excluded entirely.
func (s *Store) RestaurantsByDimension(ctx context.Context, dimension string, limit int) ([]models.Restaurant, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	var matched []models.Restaurant
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(restaurantKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var restaurant models.Restaurant
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &restaurant)
			})
			if err != nil {
				return err
			}
			if _, ok := restaurant.Signature[dimension]; ok {
				matched = append(matched, restaurant)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		vi, vj := matched[i].Signature[dimension], matched[j].Signature[dimension]
		if vi != vj {
			return vi > vj
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// PutGroup stores a group document and its member index entries.
func (s *Store) PutGroup(ctx context.Context, group *models.Group) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}
	if group.ID == "" {
		return fmt.Errorf("group id required")
	}

	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, groupKeyPrefix+group.ID, group); err != nil {
			return err
		}
		for _, member := range group.Members {
			key := groupMemberPrefix + member + ":" + group.ID
			if err := txn.Set([]byte(key), []byte(group.ID)); err != nil {
				return fmt.Errorf("set member index: %w", err)
			}
		}
		return nil
	})
}

// GetGroup retrieves a group by ID.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var group models.Group
	if err := s.viewJSON(groupKeyPrefix+id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup applies fn to the current persisted group. Same
// compare-and-set contract as UpdateUser. Member index entries for members
// added by fn are written in the same transaction.
func (s *Store) UpdateGroup(ctx context.Context, id string, fn func(g *models.Group) (bool, error)) error {
	if err := requireCtx(ctx); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var group models.Group
		if err := getJSON(txn, groupKeyPrefix+id, &group); err != nil {
			return err
		}
		write, err := fn(&group)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		if err := setJSON(txn, groupKeyPrefix+id, &group); err != nil {
			return err
		}
		for _, member := range group.Members {
			key := groupMemberPrefix + member + ":" + group.ID
			if err := txn.Set([]byte(key), []byte(group.ID)); err != nil {
				return fmt.Errorf("set member index: %w", err)
			}
		}
		return nil
	})
}

// AddGroupMember appends a user to the group's member set. The append is a
// set union: adding an existing member is a no-op, so duplicate delivery of
// a membership event converges to the same state.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return s.UpdateGroup(ctx, groupID, func(g *models.Group) (bool, error) {
		if g.HasMember(userID) {
			return false, nil
		}
		g.Members = append(g.Members, userID)
		return true, nil
	})
}

// GroupsWithMember returns every group the given user belongs to. This backs
// the unbounded fan-out on review creation: one review recomputes the
// signature of each of the author's groups.
func (s *Store) GroupsWithMember(ctx context.Context, userID string) ([]models.Group, error) {
	if err := requireCtx(ctx); err != nil {
		return nil, err
	}

	var groups []models.Group
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, groupMemberPrefix+userID+":")
		if err != nil {
			return err
		}
		groups = make([]models.Group, 0, len(ids))
		for _, id := range ids {
			var group models.Group
			if err := getJSON(txn, groupKeyPrefix+id, &group); err != nil {
				return fmt.Errorf("resolve group %s: %w", id, err)
			}
			groups = append(groups, group)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}
