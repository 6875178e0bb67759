// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package models

import "time"

// Review is an immutable evidence record contributing taste ratings.
// Reviews are write-once: the engine only ever reads them.
type Review struct {
	ID           string             `json:"id"`
	AuthorID     string             `json:"author_id"`
	RestaurantID string             `json:"restaurant_id"`
	TasteDial    map[string]float64 `json:"taste_dial"` // dimension -> rating
	Comment      string             `json:"comment,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Valid reports whether the review carries the fields the engine requires.
// A review that fails this check is malformed and will never self-correct on
// redelivery, so handlers log and ack instead of retrying.
func (r *Review) Valid() bool {
	return r.ID != "" && r.AuthorID != "" && r.RestaurantID != ""
}

// User holds reputation state. The engine is the sole writer of Points,
// PersonalityCode, and CrestRevealed.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name"`
	Points          int64     `json:"points"`
	PersonalityCode string    `json:"personality_code,omitempty"` // 4-char code, set at most once
	CrestRevealed   bool      `json:"crest_revealed"`
	CreatedAt       time.Time `json:"created_at"`
}

// Restaurant is a review subject carrying a denormalized taste signature.
type Restaurant struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Address     string             `json:"address,omitempty"`
	City        string             `json:"city,omitempty"`
	State       string             `json:"state,omitempty"`
	CuisineTags []string           `json:"cuisine_tags,omitempty"`
	Signature   map[string]float64 `json:"signature"` // dimension -> mean rating
	ReviewCount int                `json:"review_count"`
	CreatedBy   string             `json:"created_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Group is a subject whose signature aggregates its members' reviews.
type Group struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	CreatedBy   string             `json:"created_by"`
	Members     []string           `json:"members"` // user IDs, set semantics
	Signature   map[string]float64 `json:"signature"`
	ReviewCount int                `json:"review_count"`
	CreatedAt   time.Time          `json:"created_at"`
}

// HasMember reports whether userID is in the group's member set.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Tip is a verifiable claim. Verified flips false->true exactly once, when
// upvotes first reach the verification threshold.
type Tip struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body,omitempty"`
	Upvotes   int       `json:"upvotes"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission lifecycle states. Approval is an external admin action; the
// engine reacts to the pending->approved transition once.
const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"
)

// Submission is a user-suggested restaurant awaiting admin review.
// Processed marks that the approval transition has been consumed, so
// duplicate delivery of the approval event is a no-op.
type Submission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	CuisineTags []string  `json:"cuisine_tags,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	Status      string    `json:"status"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Story is a lightweight user post attached to a restaurant. The engine only
// acknowledges story creation; no aggregate depends on it.
type Story struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	RestaurantID string    `json:"restaurant_id"`
	MediaURL     string    `json:"media_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
