package evaluator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pricewatch/internal/lock"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
	"pricewatch/internal/pricecache"
	"pricewatch/internal/quotes"
	"pricewatch/internal/store"
)

// LockKey is the cluster-wide mutual exclusion key. One evaluation run
// at a time, regardless of how many replicas are deployed.
const LockKey = "alert-evaluator"

// TriggerSink accepts trigger events for fire-and-forget delivery.
type TriggerSink interface {
	Enqueue(ev *models.TriggerEvent) bool
}

// Config holds evaluator settings.
type Config struct {
	Interval       time.Duration
	CooldownWindow time.Duration
	LockTTL        time.Duration
}

// Evaluator runs bounded evaluation passes on a fixed cadence with
// cluster-wide mutual exclusion, and emits exactly the triggers that
// are due.
type Evaluator struct {
	cfg    Config
	locker lock.Locker
	store  store.AlertStore
	quotes quotes.Source
	priors pricecache.PriorPrices
	sink   TriggerSink

	// now is swappable for tests
	now func() time.Time
}

// New constructs an Evaluator. LockTTL defaults to twice the interval
// so a crashed holder cannot starve the cluster for more than one
// missed pass.
func New(cfg Config, locker lock.Locker, st store.AlertStore, src quotes.Source, priors pricecache.PriorPrices, sink TriggerSink) *Evaluator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Evaluator{
		cfg:    cfg,
		locker: locker,
		store:  st,
		quotes: src,
		priors: priors,
		sink:   sink,
		now:    time.Now,
	}
}

// Run executes evaluation passes on the configured cadence until the
// context is cancelled. Pass failures are logged and retried on the
// next tick; they never stop the loop.
func (e *Evaluator) Run(ctx context.Context) error {
	log := logger.WithComponent("evaluator")
	log.Info().
		Dur("interval", e.cfg.Interval).
		Dur("cooldown", e.cfg.CooldownWindow).
		Dur("lock_ttl", e.cfg.LockTTL).
		Msg("evaluator starting")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("evaluation pass failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("evaluator stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single evaluation pass: acquire the lock, load
// active alerts, batch-fetch quotes, evaluate conditions with debounce,
// emit due triggers, release the lock. Losing the lock race is a no-op,
// not an error.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	log := logger.WithComponent("evaluator")
	start := e.now()

	held, err := e.locker.TryAcquire(ctx, LockKey, e.cfg.LockTTL)
	if err != nil {
		// Fail closed: without the lock we never evaluate.
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		metrics.RunsTotal.WithLabelValues("aborted").Inc()
		return fmt.Errorf("lock acquire failed: %w", err)
	}
	if !held {
		// Expected steady state with multiple replicas.
		metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
		metrics.RunsTotal.WithLabelValues("lock_contended").Inc()
		log.Debug().Msg("another instance holds the evaluation lock")
		return nil
	}
	metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()

	// Release promptly even when ctx is already cancelled; the TTL is
	// only the backstop for a crashed holder.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.locker.Release(releaseCtx, LockKey); err != nil {
			log.Warn().Err(err).Msg("lock release failed, waiting for TTL expiry")
		}
	}()

	if err := ctx.Err(); err != nil {
		metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		return err
	}

	alerts, err := e.store.ActiveAlerts(ctx)
	if err != nil {
		// Nothing changed yet; retry on the next tick.
		metrics.StoreErrors.WithLabelValues("load").Inc()
		metrics.RunsTotal.WithLabelValues("aborted").Inc()
		return fmt.Errorf("failed to load alerts: %w", err)
	}

	if len(alerts) == 0 {
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		log.Debug().Msg("no active alerts")
		return nil
	}

	bySymbol := groupBySymbol(alerts)
	symbols := sortedSymbols(bySymbol)

	if err := ctx.Err(); err != nil {
		metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		return err
	}

	fetchStart := time.Now()
	results, err := e.quotes.Latest(ctx, symbols)
	metrics.QuoteBatchDuration.Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		// Whole-batch failure (upstream down, breaker open): every
		// symbol is skipped, but the pass itself completes.
		log.Warn().Err(err).Int("symbols", len(symbols)).Msg("quote batch fetch failed, skipping all symbols")
		metrics.QuoteFetchFailures.Add(float64(len(symbols)))
		metrics.AlertsSkipped.WithLabelValues("quote_failed").Add(float64(len(alerts)))
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		return nil
	}

	stats := e.evaluateSymbols(ctx, symbols, bySymbol, results)
	if stats.cancelled {
		metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		return ctx.Err()
	}

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Int("alerts", len(alerts)).
		Int("symbols", len(symbols)).
		Int("evaluated", stats.evaluated).
		Int("triggered", stats.triggered).
		Int("skipped_quote", stats.skippedQuote).
		Dur("duration", time.Since(start)).
		Msg("evaluation pass completed")
	return nil
}

// passStats summarizes one evaluation pass.
type passStats struct {
	evaluated    int
	triggered    int
	skippedQuote int
	cancelled    bool
}

// evaluateSymbols walks the symbol groups sequentially. Sequential
// iteration is what serializes the trigger-and-persist step per alert
// within a run.
func (e *Evaluator) evaluateSymbols(ctx context.Context, symbols []string, bySymbol map[string][]models.Alert, results map[string]quotes.Result) passStats {
	log := logger.WithComponent("evaluator")
	var stats passStats

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			stats.cancelled = true
			return stats
		}

		group := bySymbol[symbol]

		res, ok := results[symbol]
		if !ok || res.Err != nil {
			// Partial data must not block the rest of the run.
			err := res.Err
			if !ok {
				err = quotes.ErrQuoteMissing
			}
			log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("alerts", len(group)).
				Msg("quote unavailable, skipping symbol")
			metrics.QuoteFetchFailures.Inc()
			metrics.AlertsSkipped.WithLabelValues("quote_failed").Add(float64(len(group)))
			stats.skippedQuote += len(group)
			continue
		}

		mid := res.Quote.Midpoint()
		prior := e.loadPrior(ctx, symbol, group)

		for i := range group {
			alert := &group[i]
			stats.evaluated++
			metrics.AlertsEvaluated.Inc()

			if !Holds(alert.Operator, alert.Threshold, mid, prior) {
				continue
			}

			now := e.now().UTC()
			if !Eligible(alert.LastTriggeredAt, now, e.cfg.CooldownWindow) {
				metrics.AlertsSkipped.WithLabelValues("cooldown").Inc()
				log.Debug().
					Str("alert_id", alert.ID).
					Str("symbol", symbol).
					Time("last_triggered_at", *alert.LastTriggeredAt).
					Msg("condition holds but cooldown active")
				continue
			}

			e.trigger(ctx, alert, mid, now)
			stats.triggered++
		}

		// Record after evaluating so crossing operators compare
		// against the previous pass, not this one.
		if err := e.priors.Record(ctx, symbol, mid); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("failed to record prior price")
		}
	}

	return stats
}

// loadPrior fetches the previously observed midpoint when any alert in
// the group needs it.
func (e *Evaluator) loadPrior(ctx context.Context, symbol string, group []models.Alert) *float64 {
	needed := false
	for i := range group {
		if group[i].Operator.NeedsPrior() {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	prior, ok, err := e.priors.Prior(ctx, symbol)
	if err != nil {
		log := logger.WithComponent("evaluator")
		log.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("failed to load prior price")
		return nil
	}
	if !ok {
		metrics.AlertsSkipped.WithLabelValues("no_prior").Inc()
		return nil
	}
	return &prior
}

// trigger emits the notification and then persists the trigger
// timestamp. Notify-then-persist: a crash between the two can duplicate
// a notification on the next run but never silently lose one.
func (e *Evaluator) trigger(ctx context.Context, alert *models.Alert, observed float64, now time.Time) {
	log := logger.WithComponent("evaluator")

	ev := models.NewTriggerEvent(alert, observed, now)
	e.sink.Enqueue(ev)
	metrics.TriggersFired.Inc()

	log.Info().
		Str("alert_id", alert.ID).
		Str("user_id", alert.UserID).
		Str("symbol", alert.Symbol).
		Str("operator", string(alert.Operator)).
		Float64("threshold", alert.Threshold).
		Float64("observed", observed).
		Msg("alert triggered")

	if err := e.store.MarkTriggered(ctx, alert.ID, now); err != nil {
		// The alert may re-notify next eligible tick; acceptable
		// duplicate per the delivery contract.
		metrics.StoreErrors.WithLabelValues("mark_triggered").Inc()
		log.Error().
			Err(err).
			Str("alert_id", alert.ID).
			Msg("failed to persist trigger timestamp")
		return
	}

	alert.LastTriggeredAt = &now
}

// groupBySymbol buckets alerts so each symbol is fetched exactly once.
func groupBySymbol(alerts []models.Alert) map[string][]models.Alert {
	bySymbol := make(map[string][]models.Alert)
	for _, a := range alerts {
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}
	return bySymbol
}

// sortedSymbols returns the distinct symbol set in stable order.
func sortedSymbols(bySymbol map[string][]models.Alert) []string {
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
