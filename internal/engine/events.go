// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package engine

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dymelabs/tastecore/internal/models"
)

// SchemaVersion is the current event schema version. Increment on breaking
// changes to any event payload.
const SchemaVersion = 1

// Topics carrying document change events. Update topics deliver the full
// before/after document state; created topics deliver the new document.
const (
	TopicReviewCreated     = "taste.review.created"
	TopicTipUpdated        = "taste.tip.updated"
	TopicSubmissionUpdated = "taste.submission.updated"
	TopicGroupUpdated      = "taste.group.updated"
	TopicStoryCreated      = "taste.story.created"
	TopicPoison            = "taste.poison"
)

// ReviewCreatedEvent announces a newly written review. Reviews are immutable,
// so there is no before state.
type ReviewCreatedEvent struct {
	SchemaVersion int           `json:"schema_version,omitempty"`
	EventID       string        `json:"event_id"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Review        models.Review `json:"review"`
}

// Validate checks the fields the handlers require. A failing event is
// malformed and will never self-correct on redelivery.
func (e *ReviewCreatedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("review event missing event_id")
	}
	if !e.Review.Valid() {
		return fmt.Errorf("review %q missing required fields", e.Review.ID)
	}
	return nil
}

// TipUpdatedEvent carries a tip's state before and after a write. Before is
// nil on creation.
type TipUpdatedEvent struct {
	SchemaVersion int         `json:"schema_version,omitempty"`
	EventID       string      `json:"event_id"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Before        *models.Tip `json:"before,omitempty"`
	After         models.Tip  `json:"after"`
}

func (e *TipUpdatedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("tip event missing event_id")
	}
	if e.After.ID == "" || e.After.AuthorID == "" {
		return fmt.Errorf("tip event missing tip id or author")
	}
	return nil
}

// SubmissionUpdatedEvent carries a restaurant submission before and after a
// write, typically the admin status change.
type SubmissionUpdatedEvent struct {
	SchemaVersion int                `json:"schema_version,omitempty"`
	EventID       string             `json:"event_id"`
	OccurredAt    time.Time          `json:"occurred_at"`
	Before        *models.Submission `json:"before,omitempty"`
	After         models.Submission  `json:"after"`
}

func (e *SubmissionUpdatedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("submission event missing event_id")
	}
	if e.After.ID == "" || e.After.SubmittedBy == "" {
		return fmt.Errorf("submission event missing id or submitter")
	}
	return nil
}

// GroupUpdatedEvent carries a group before and after a write, covering both
// creation and membership changes.
type GroupUpdatedEvent struct {
	SchemaVersion int           `json:"schema_version,omitempty"`
	EventID       string        `json:"event_id"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Before        *models.Group `json:"before,omitempty"`
	After         models.Group  `json:"after"`
}

func (e *GroupUpdatedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("group event missing event_id")
	}
	if e.After.ID == "" {
		return fmt.Errorf("group event missing group id")
	}
	return nil
}

// StoryCreatedEvent announces a new story post.
type StoryCreatedEvent struct {
	SchemaVersion int          `json:"schema_version,omitempty"`
	EventID       string       `json:"event_id"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Story         models.Story `json:"story"`
}

func (e *StoryCreatedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("story event missing event_id")
	}
	if e.Story.ID == "" {
		return fmt.Errorf("story event missing story id")
	}
	return nil
}

type event interface {
	Validate() error
}

// encodeEvent validates and marshals an event payload.
func encodeEvent(e event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// decodeEvent unmarshals and validates an event payload. A decode or
// validation failure is permanent: the caller must ack, not retry.
func decodeEvent[T any, P interface {
	*T
	event
}](data []byte) (*T, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := P(&e).Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Publisher publishes document change events. The watermill message UUID is
// the event ID, so JetStream message-ID tracking deduplicates republished
// events at the broker.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher wraps a watermill publisher.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) publish(topic string, eventID string, e event) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}
	msg := message.NewMessage(eventID, data)
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishReviewCreated emits a review creation event.
func (p *Publisher) PublishReviewCreated(review models.Review) error {
	e := &ReviewCreatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		Review:        review,
	}
	return p.publish(TopicReviewCreated, e.EventID, e)
}

// PublishTipUpdated emits a tip change event.
func (p *Publisher) PublishTipUpdated(before *models.Tip, after models.Tip) error {
	e := &TipUpdatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		Before:        before,
		After:         after,
	}
	return p.publish(TopicTipUpdated, e.EventID, e)
}

// PublishSubmissionUpdated emits a submission change event.
func (p *Publisher) PublishSubmissionUpdated(before *models.Submission, after models.Submission) error {
	e := &SubmissionUpdatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		Before:        before,
		After:         after,
	}
	return p.publish(TopicSubmissionUpdated, e.EventID, e)
}

// PublishGroupUpdated emits a group change event.
func (p *Publisher) PublishGroupUpdated(before *models.Group, after models.Group) error {
	e := &GroupUpdatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		Before:        before,
		After:         after,
	}
	return p.publish(TopicGroupUpdated, e.EventID, e)
}

// PublishStoryCreated emits a story creation event.
func (p *Publisher) PublishStoryCreated(story models.Story) error {
	e := &StoryCreatedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		Story:         story,
	}
	return p.publish(TopicStoryCreated, e.EventID, e)
}
