package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
	"pricewatch/internal/notify"
)

// Pool fans trigger events out to the notification transport. The
// evaluator enqueues and moves on; delivery failures are logged and
// counted, never escalated back into the evaluation pass.
type Pool struct {
	publisher    notify.Publisher
	triggerChan  chan *models.TriggerEvent
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds dispatch pool configuration
type Config struct {
	Publisher    notify.Publisher
	Workers      int
	QueueSize    int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new dispatch pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:    cfg.Publisher,
		triggerChan:  make(chan *models.TriggerEvent, cfg.QueueSize),
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins draining the trigger queue
func (p *Pool) Start() {
	log := logger.WithComponent("dispatch_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.triggerChan)).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting dispatch pool")

	metrics.DispatchQueueCapacity.Set(float64(cap(p.triggerChan)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains and stops all workers
func (p *Pool) Stop() {
	log := logger.WithComponent("dispatch_pool")
	log.Info().Msg("stopping dispatch pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("dispatch pool stopped")
}

// Enqueue hands a trigger event to the pool without blocking. A full
// queue drops the event: delivery is best-effort and the alert is still
// marked triggered by the caller.
func (p *Pool) Enqueue(ev *models.TriggerEvent) bool {
	select {
	case p.triggerChan <- ev:
		metrics.DispatchQueueSize.Set(float64(len(p.triggerChan)))
		return true
	default:
		p.dropped.Add(1)
		metrics.DispatchDroppedTotal.Inc()
		log := logger.WithComponent("dispatch_pool")
		log.Warn().
			Str("alert_id", ev.AlertID).
			Str("symbol", ev.Symbol).
			Msg("trigger queue full, event dropped")
		return false
	}
}

// worker batches trigger events and publishes them
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("dispatch").With().Int("worker_id", id).Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("dispatch worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatch").Inc()
		}
	}()

	log.Debug().Msg("dispatch worker started")
	defer log.Debug().Msg("dispatch worker stopped")

	batch := make([]*models.TriggerEvent, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			// Flush remaining batch before exiting
			p.drain(batch)
			return

		case ev, ok := <-p.triggerChan:
			if !ok {
				p.publishBatch(batch)
				return
			}

			batch = append(batch, ev)

			if len(batch) >= p.batchSize {
				p.publishBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.publishBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// drain flushes the in-flight batch plus whatever is still queued when
// the pool stops, so accepted triggers are not silently lost on
// shutdown.
func (p *Pool) drain(batch []*models.TriggerEvent) {
	for {
		select {
		case ev := <-p.triggerChan:
			batch = append(batch, ev)
			if len(batch) >= p.batchSize {
				p.publishBatch(batch)
				batch = batch[:0]
			}
		default:
			p.publishBatch(batch)
			return
		}
	}
}

// publishBatch publishes a batch of trigger events
func (p *Pool) publishBatch(batch []*models.TriggerEvent) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("dispatch")
	start := time.Now()

	// Publish outlives pool cancellation so a drain can still flush.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, batch)
	duration := time.Since(start)

	metrics.DispatchPublishDuration.Observe(duration.Seconds())
	metrics.DispatchQueueSize.Set(float64(len(p.triggerChan)))

	if err != nil {
		// Best-effort delivery: log and count, no re-delivery.
		log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("failed to publish trigger batch")
		p.failed.Add(uint64(len(batch)))
		return
	}

	log.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("trigger batch dispatched")
	p.published.Add(uint64(len(batch)))
}

// Stats returns dispatch pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.triggerChan),
	}
}

// Stats holds dispatch pool metrics
type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
	Queued    int
}
