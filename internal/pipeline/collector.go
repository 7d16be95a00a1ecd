// Package pipeline runs the telemetry collection loop: advance the fleet on
// a tick, validate and broadcast what it produced, and periodically flush
// the accumulated batch to storage and alerting.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/alerts"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/broadcast"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/bus"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/metrics"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/simulator"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/validate"
)

const (
	defaultTickInterval  = 1 * time.Second
	defaultFlushInterval = 5 * time.Second
	sinkSendTimeout      = 2 * time.Second
)

// Store defines the persistence behaviour used by the collector.
type Store interface {
	AppendSamples(batch []models.ValidatedSample)
	AppendAlert(alert models.Alert)
}

// Stats is a snapshot of collector progress.
type Stats struct {
	SamplesGenerated uint64 `json:"samples_generated"`
	SamplesFlushed   uint64 `json:"samples_flushed"`
	AlertsRaised     uint64 `json:"alerts_raised"`
	Pending          int    `json:"pending"`
}

// Collector drives the generation and flush loops. Construct with
// NewCollector, then Start; Stop drains the remaining buffer.
type Collector struct {
	logger    *slog.Logger
	fleet     *simulator.Fleet
	store     Store
	evaluator *alerts.Evaluator
	publisher broadcast.Publisher
	sink      bus.AlertSink

	tickInterval  time.Duration
	flushInterval time.Duration

	mu        sync.Mutex
	buffer    []models.ValidatedSample
	generated uint64
	flushed   uint64
	raised    uint64

	started atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// NewCollector wires the collection loop. Nil publisher or sink default to
// the no-op implementations; nil evaluator uses default thresholds.
func NewCollector(
	logger *slog.Logger,
	fleet *simulator.Fleet,
	store Store,
	evaluator *alerts.Evaluator,
	publisher broadcast.Publisher,
	sink bus.AlertSink,
	tickInterval, flushInterval time.Duration,
) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = alerts.NewEvaluator(alerts.DefaultThresholds())
	}
	if publisher == nil {
		publisher = broadcast.NoopPublisher{}
	}
	if sink == nil {
		sink = bus.NoopSink{}
	}
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	return &Collector{
		logger:        logger.With(slog.String("component", "collector")),
		fleet:         fleet,
		store:         store,
		evaluator:     evaluator,
		publisher:     publisher,
		sink:          sink,
		tickInterval:  tickInterval,
		flushInterval: flushInterval,
	}
}

// Start launches the generation and flush goroutines. Calling Start on a
// running collector is a no-op.
func (c *Collector) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.stop = make(chan struct{})
	c.done.Add(2)
	go c.generateLoop()
	go c.flushLoop()
	c.logger.Info("collector started",
		slog.Duration("tick_interval", c.tickInterval),
		slog.Duration("flush_interval", c.flushInterval))
}

// Stop halts both loops and flushes whatever is still buffered.
func (c *Collector) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	close(c.stop)
	c.done.Wait()
	c.flush()
	c.logger.Info("collector stopped")
}

// Tick advances the fleet once, broadcasts the validated readings and
// buffers them for the next flush. The loop calls this; tests call it
// directly for deterministic runs.
func (c *Collector) Tick(now time.Time) {
	raw := c.fleet.AdvanceAll(now)

	validated := make([]models.ValidatedSample, 0, len(raw))
	for _, sample := range raw {
		v := validate.Check(sample)
		metrics.ObserveSample(v.Valid)
		if !v.Valid {
			c.logger.Debug("invalid sample",
				slog.String("unit_id", v.UnitID),
				slog.Float64("quality_score", v.QualityScore),
				slog.Any("violations", v.Violations))
		}
		validated = append(validated, v)
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, validated...)
	c.generated += uint64(len(validated))
	c.mu.Unlock()

	// Subscribers see each reading as it happens, not on the flush cadence.
	for unitID, unitBatch := range groupByUnit(validated) {
		c.publisher.PublishBatch(unitID, unitBatch)
	}
}

// Flush moves the buffered batch to storage and raises alerts. Exposed for
// tests and for a final drain on shutdown.
func (c *Collector) Flush() {
	c.flush()
}

// Running reports whether the loops are active.
func (c *Collector) Running() bool {
	return c.started.Load()
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		SamplesGenerated: c.generated,
		SamplesFlushed:   c.flushed,
		AlertsRaised:     c.raised,
		Pending:          len(c.buffer),
	}
}

func (c *Collector) generateLoop() {
	defer c.done.Done()
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.Tick(now.UTC())
		}
	}
}

func (c *Collector) flushLoop() {
	defer c.done.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush swaps the buffer out under the lock and does all the slow work
// (storage, evaluation, broker IO) outside it.
func (c *Collector) flush() {
	c.mu.Lock()
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	c.store.AppendSamples(batch)
	metrics.ObserveFlush(len(batch))

	var raised uint64
	for _, sample := range batch {
		// Corrupted readings fail validation with out-of-range values that
		// would trip every threshold; only trustworthy samples may page.
		if !sample.Valid {
			continue
		}
		for _, alert := range c.evaluator.Evaluate(sample) {
			raised++
			c.store.AppendAlert(alert)
			metrics.ObserveAlert(string(alert.Category), string(alert.Severity))
			c.forwardAlert(alert)
			c.logger.Warn("alert raised",
				slog.String("unit_id", alert.UnitID),
				slog.String("category", string(alert.Category)),
				slog.String("severity", string(alert.Severity)),
				slog.String("message", alert.Message))
		}
	}

	c.mu.Lock()
	c.flushed += uint64(len(batch))
	c.raised += raised
	c.mu.Unlock()

	c.logger.Debug("flushed batch",
		slog.Int("samples", len(batch)),
		slog.Uint64("alerts", raised))
}

func (c *Collector) forwardAlert(alert models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
	defer cancel()
	if err := c.sink.Send(ctx, alert); err != nil {
		c.logger.Warn("forward alert",
			slog.String("alert_id", alert.ID),
			slog.Any("error", err))
	}
}

func groupByUnit(batch []models.ValidatedSample) map[string][]models.ValidatedSample {
	groups := make(map[string][]models.ValidatedSample)
	for _, sample := range batch {
		groups[sample.UnitID] = append(groups[sample.UnitID], sample)
	}
	return groups
}
