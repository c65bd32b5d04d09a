package messaging

import (
	"context"
	"sync"
	"time"

	"seawatch/internal/repository"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	workerInterval     = 1 * time.Second
	batchSize          = 50
	cleanupInterval    = 1 * time.Hour
	publishedRetention = 24 * time.Hour

	publishAttempts = 3
	retryDelay      = 200 * time.Millisecond
	maxRetryDelay   = 2 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, messageID, routingKey string, body []byte) error
}

// OutboxStore is the part of repository.OutboxRepository the relay uses.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]repository.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (repository.OutboxStats, error)
}

// OutboxWorker relays report events committed to the outbox table to the
// broker. Delivery is at least once; consumers dedupe on MessageId.
type OutboxWorker struct {
	outbox    OutboxStore
	publisher Publisher
	log       logrus.FieldLogger
	delay     time.Duration
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewOutboxWorker(outbox OutboxStore, publisher Publisher, log logrus.FieldLogger) *OutboxWorker {
	return &OutboxWorker{
		outbox:    outbox,
		publisher: publisher,
		log:       log.WithField("component", "outbox"),
		delay:     retryDelay,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.processLoop(ctx)
	go w.cleanupLoop(ctx)
	w.log.Info("started")
}

func (w *OutboxWorker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(workerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending publishes one batch of pending messages and returns how
// many went out.
func (w *OutboxWorker) ProcessPending(ctx context.Context) int {
	messages, err := w.outbox.ListPending(ctx, batchSize)
	if err != nil {
		w.log.WithError(err).Error("list pending messages")
		return 0
	}

	published := 0
	for _, msg := range messages {
		entry := w.log.WithFields(logrus.Fields{
			"message_id":  msg.ID,
			"routing_key": msg.RoutingKey,
			"attempts":    msg.Attempts,
		})
		if event, err := msg.Event(); err == nil {
			entry = entry.WithField("report_id", event.ReportID)
		}

		err := retry.Do(
			func() error {
				return w.publisher.Publish(ctx, msg.ID.String(), msg.RoutingKey, msg.Payload)
			},
			retry.Context(ctx),
			retry.Attempts(publishAttempts),
			retry.Delay(w.delay),
			retry.MaxDelay(maxRetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				entry.WithError(err).Debugf("retry %d", n+1)
			}),
		)
		if err != nil {
			entry.WithError(err).Warn("publish failed")
			if err := w.outbox.RecordFailure(ctx, msg.ID, err); err != nil {
				entry.WithError(err).Error("record failure")
			}
			continue
		}

		if err := w.outbox.MarkPublished(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("mark published")
			continue
		}
		published++
	}
	return published
}

func (w *OutboxWorker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := w.outbox.PurgePublished(ctx, time.Now().Add(-publishedRetention))
			if err != nil {
				w.log.WithError(err).Error("cleanup")
			} else if deleted > 0 {
				w.log.WithField("deleted", deleted).Info("cleaned old messages")
			}
		}
	}
}

func (w *OutboxWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("stopped")
}

func (w *OutboxWorker) Stats(ctx context.Context) (repository.OutboxStats, error) {
	return w.outbox.Stats(ctx)
}
