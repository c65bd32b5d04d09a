package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"seawatch/internal/model"

	"github.com/google/uuid"
)

// MaxOutboxRetries is the number of failed relay rounds after which a message
// is parked as failed.
const MaxOutboxRetries = 5

// Stored errors are cut to this many bytes.
const maxOutboxErrorLength = 500

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is one report event waiting to be relayed. Payload is the
// JSON encoding of a model.ReportEvent.
type OutboxMessage struct {
	ID         uuid.UUID
	RoutingKey string
	Payload    []byte
	Attempts   int
	CreatedAt  time.Time
}

// Event decodes the payload.
func (m OutboxMessage) Event() (model.ReportEvent, error) {
	var event model.ReportEvent
	err := json.Unmarshal(m.Payload, &event)
	return event, err
}

// OutboxStats counts messages per status.
type OutboxStats struct {
	Pending   int `json:"pending"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Record stores event under routingKey inside tx, so the event exists if and
// only if the report change commits.
func (r *OutboxRepository) Record(ctx context.Context, tx *sql.Tx, routingKey string, event model.ReportEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), routingKey, payload, OutboxPending,
	)
	return err
}

// ListPending returns the oldest pending messages. One relay worker runs per
// database.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, routing_key, payload, retry_count, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		OutboxPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.RoutingKey, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, published_at = NOW()
		WHERE id = $1`,
		id, OutboxPublished,
	)
	return err
}

// RecordFailure counts one failed relay round. The message stays pending
// until it has failed MaxOutboxRetries times.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	if len(msg) > maxOutboxErrorLength {
		msg = msg[:maxOutboxErrorLength]
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $1`,
		id, msg, MaxOutboxRetries, OutboxFailed,
	)
	return err
}

// PurgePublished deletes messages published before cutoff.
func (r *OutboxRepository) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_messages
		WHERE status = $1 AND published_at < $2`,
		OutboxPublished, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM outbox_messages`,
	).Scan(&stats.Pending, &stats.Published, &stats.Failed)
	return stats, err
}
