package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/logger"
	"pricewatch/internal/models"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	m.Run()
}

// mockPublisher records published batches.
type mockPublisher struct {
	mu      sync.Mutex
	events  []*models.TriggerEvent
	batches int
	err     error
}

func (p *mockPublisher) Publish(ctx context.Context, ev *models.TriggerEvent) error {
	return p.PublishBatch(ctx, []*models.TriggerEvent{ev})
}

func (p *mockPublisher) PublishBatch(ctx context.Context, evs []*models.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evs...)
	p.batches++
	return nil
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func event(id string) *models.TriggerEvent {
	return &models.TriggerEvent{
		ID:           "ev-" + id,
		AlertID:      id,
		UserID:       "u1",
		Symbol:       "AAPL",
		PartitionKey: "u1",
		TriggeredAt:  time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPoolPublishesEnqueuedEvents(t *testing.T) {
	pub := &mockPublisher{}
	pool := NewPool(Config{
		Publisher:    pub,
		Workers:      2,
		QueueSize:    100,
		BatchSize:    10,
		BatchTimeout: 20 * time.Millisecond,
	})
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 5; i++ {
		if !pool.Enqueue(event(fmt.Sprintf("a%d", i))) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	waitFor(t, func() bool { return pub.count() == 5 }, "events never published")

	stats := pool.Stats()
	if stats.Published != 5 || stats.Dropped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPoolFlushesFullBatchImmediately(t *testing.T) {
	pub := &mockPublisher{}
	pool := NewPool(Config{
		Publisher:    pub,
		Workers:      1,
		QueueSize:    100,
		BatchSize:    3,
		BatchTimeout: 10 * time.Second, // timer must not be what flushes
	})
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 3; i++ {
		pool.Enqueue(event(fmt.Sprintf("b%d", i)))
	}

	waitFor(t, func() bool { return pub.count() == 3 }, "full batch never flushed")
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	pub := &mockPublisher{}
	// Pool never started, so the queue only fills.
	pool := NewPool(Config{
		Publisher: pub,
		Workers:   1,
		QueueSize: 2,
	})

	if !pool.Enqueue(event("c1")) || !pool.Enqueue(event("c2")) {
		t.Fatal("queue should accept up to capacity")
	}
	if pool.Enqueue(event("c3")) {
		t.Error("expected drop on full queue")
	}
	if got := pool.Stats().Dropped; got != 1 {
		t.Errorf("expected 1 dropped, got %d", got)
	}
}

func TestPoolDrainsOnStop(t *testing.T) {
	pub := &mockPublisher{}
	pool := NewPool(Config{
		Publisher:    pub,
		Workers:      1,
		QueueSize:    100,
		BatchSize:    50,
		BatchTimeout: 10 * time.Second,
	})

	// Enqueue before starting so everything is still queued at Stop.
	for i := 0; i < 7; i++ {
		pool.Enqueue(event(fmt.Sprintf("d%d", i)))
	}

	pool.Start()
	pool.Stop()

	if pub.count() != 7 {
		t.Errorf("expected 7 events drained on stop, got %d", pub.count())
	}
}

func TestPoolCountsPublishFailures(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker unreachable")}
	pool := NewPool(Config{
		Publisher:    pub,
		Workers:      1,
		QueueSize:    100,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	})
	pool.Start()

	pool.Enqueue(event("e1"))

	waitFor(t, func() bool { return pool.Stats().Failed == 1 }, "failure never counted")
	pool.Stop()

	if pub.count() != 0 {
		t.Errorf("expected no events published, got %d", pub.count())
	}
}
