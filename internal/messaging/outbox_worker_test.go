package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seawatch/internal/repository"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []repository.OutboxMessage
	published []uuid.UUID
	failed    map[uuid.UUID]error
}

func newFakeOutbox(messages ...repository.OutboxMessage) *fakeOutbox {
	return &fakeOutbox{pending: messages, failed: map[uuid.UUID]error{}}
}

func (f *fakeOutbox) ListPending(_ context.Context, limit int) ([]repository.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutbox) RecordFailure(_ context.Context, id uuid.UUID, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = cause
	return nil
}

func (f *fakeOutbox) PurgePublished(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeOutbox) Stats(context.Context) (repository.OutboxStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return repository.OutboxStats{Pending: len(f.pending), Published: len(f.published)}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	failures map[string]int
	sent     []string
	keys     []string
}

func (p *fakePublisher) Publish(_ context.Context, messageID, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures[messageID] > 0 {
		p.failures[messageID]--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, messageID)
	p.keys = append(p.keys, routingKey)
	return nil
}

func outboxMessage(routingKey string) repository.OutboxMessage {
	return repository.OutboxMessage{
		ID:         uuid.New(),
		RoutingKey: routingKey,
		Payload:    []byte(`{"report_id":"x"}`),
	}
}

func newTestWorker(outbox OutboxStore, publisher Publisher) *OutboxWorker {
	log, _ := logtest.NewNullLogger()
	w := NewOutboxWorker(outbox, publisher, log)
	w.delay = time.Millisecond
	return w
}

func TestProcessPending(t *testing.T) {
	ok := outboxMessage("report.created")
	flaky := outboxMessage("report.updated")
	dead := outboxMessage("report.deleted")

	outbox := newFakeOutbox(ok, flaky, dead)
	publisher := &fakePublisher{failures: map[string]int{
		flaky.ID.String(): 1,
		dead.ID.String():  publishAttempts,
	}}

	published := newTestWorker(outbox, publisher).ProcessPending(context.Background())

	assert.Equal(t, 2, published)
	assert.ElementsMatch(t, []uuid.UUID{ok.ID, flaky.ID}, outbox.published)
	require.Contains(t, outbox.failed, dead.ID)
	assert.EqualError(t, outbox.failed[dead.ID], "broker unavailable")
	assert.ElementsMatch(t, []string{"report.created", "report.updated"}, publisher.keys)
}

func TestProcessPending_Empty(t *testing.T) {
	publisher := &fakePublisher{}
	assert.Equal(t, 0, newTestWorker(newFakeOutbox(), publisher).ProcessPending(context.Background()))
	assert.Empty(t, publisher.sent)
}

func TestStartStop(t *testing.T) {
	msg := outboxMessage("report.created")
	outbox := newFakeOutbox(msg)
	w := newTestWorker(outbox, &fakePublisher{})

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return len(outbox.published) > 0
	}, 3*time.Second, 20*time.Millisecond)
	w.Stop()

	stats, err := w.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.GreaterOrEqual(t, stats.Published, 1)
}
