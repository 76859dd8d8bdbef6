package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-task-api/internal/observability"
)

// Event types emitted by the submission workflow.
const (
	SubmissionCreated     = "submission.created"
	SubmissionEssayScored = "submission.essay_scored"
	SubmissionScored      = "submission.scored"
)

// Event describes a change to one or more submissions. Scores are not carried.
type Event struct {
	Type          string    `json:"type"`
	SubmissionID  uint      `json:"submission_id,omitempty"`
	TaskID        uint      `json:"task_id,omitempty"`
	UserID        uint      `json:"user_id"`
	TaskType      string    `json:"task_type"`
	Count         int       `json:"count,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher emits submission events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NopPublisher discards every event.
func NopPublisher() Publisher {
	return nopPublisher{}
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewNATSPublisher publishes events on "<subject>.<event type>". A nil connection yields a no-op publisher.
func NewNATSPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) Publisher {
	if conn == nil || strings.TrimSpace(subject) == "" {
		return NopPublisher()
	}
	return &natsPublisher{
		conn:    conn,
		subject: strings.TrimSuffix(strings.TrimSpace(subject), "."),
		logger:  logger.With().Str("component", "event_publisher").Logger(),
		now:     time.Now,
	}
}

func (p *natsPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(p.stamp(ctx, event))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := p.subject + "." + event.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Uint("submission_id", event.SubmissionID).Msg("event published")
	return nil
}

// stamp fills the occurrence time and the request correlation id when the caller left them empty.
func (p *natsPublisher) stamp(ctx context.Context, event Event) Event {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = observability.CorrelationID(ctx)
	}
	return event
}
