package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// Config holds tracking pipeline configuration
type Config struct {
	CollectorURL  string        // Base URL of the analytics collector
	BatchSize     int           // Queue length that triggers a flush
	FlushInterval time.Duration // Periodic flush cadence
	RetryAttempts int           // Delivery failures tolerated per event
	Timeout       time.Duration // Per-request budget for collector calls
}

// DefaultConfig returns production defaults
func DefaultConfig(collectorURL string) *Config {
	return &Config{
		CollectorURL:  collectorURL,
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
		RetryAttempts: 3,
		Timeout:       2 * time.Second,
	}
}

// MetricsRecorder receives pipeline counter updates. A nil recorder
// disables metrics.
type MetricsRecorder interface {
	IncTrackingQueued()
	IncTrackingDropped()
}

// Pipeline queues impression and performance events into batches and
// posts them to the collector when the batch fills or the flush timer
// fires. Click events bypass the queue because navigation usually
// follows immediately and the caller needs the delivery result.
//
// A failed batch is requeued at the front so ordering survives retries;
// events that fail more than RetryAttempts times are dropped with an
// error log rather than blocking the caller.
type Pipeline struct {
	config     *Config
	httpClient *http.Client
	state      ClientState
	metrics    MetricsRecorder
	sessionID  string

	mu    sync.Mutex
	queue []*Event

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	totalQueued  atomic.Int64
	totalSent    atomic.Int64
	totalDropped atomic.Int64
	totalRetried atomic.Int64
}

// New creates a tracking pipeline and starts its flush loop. state may
// be nil when no client storage is available; metrics may be nil.
func New(config *Config, state ClientState, metrics MetricsRecorder) *Pipeline {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if state == nil {
		state = noopState{}
	}

	p := &Pipeline{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		state:      state,
		metrics:    metrics,
		sessionID:  uuid.NewString(),
		queue:      make([]*Event, 0, config.BatchSize),
		flushCh:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// TrackImpression queues an impression event for the bid
func (p *Pipeline) TrackImpression(ctx context.Context, b *bid.Bid, leadID string) error {
	return p.Track(ctx, NewEvent(EventImpression, b, leadID, p.sessionID, p.state))
}

// TrackClick sends a click event immediately. The error is returned to
// the caller because clicks gate user navigation.
func (p *Pipeline) TrackClick(ctx context.Context, b *bid.Bid, leadID string) error {
	return p.Track(ctx, NewEvent(EventClick, b, leadID, p.sessionID, p.state))
}

// TrackPerformance queues a performance event with its timing breakdown
func (p *Pipeline) TrackPerformance(ctx context.Context, b *bid.Bid, leadID string, timing *PerformanceTiming) error {
	ev := NewEvent(EventPerformance, b, leadID, p.sessionID, p.state)
	ev.Timing = timing
	return p.Track(ctx, ev)
}

// Track routes an event into the pipeline. Clicks are delivered
// synchronously; everything else is queued for the next batch flush.
func (p *Pipeline) Track(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.New("nil tracking event")
	}

	if ev.Type == EventClick {
		if err := p.sendOne(ctx, ev); err != nil {
			return err
		}
		p.totalSent.Add(1)
		return nil
	}

	p.mu.Lock()
	p.queue = append(p.queue, ev)
	full := len(p.queue) >= p.config.BatchSize
	p.mu.Unlock()

	p.totalQueued.Add(1)
	if p.metrics != nil {
		p.metrics.IncTrackingQueued()
	}

	if full {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// run drives timer- and size-triggered flushes until Close
func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.flushWithTimeout()
		case <-p.flushCh:
			p.flushWithTimeout()
		}
	}
}

func (p *Pipeline) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	if err := p.flushOnce(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("tracking batch flush failed, batch requeued")
	}
}

// flushOnce sends one batch from the front of the queue. On failure the
// surviving events go back to the front in their original order.
func (p *Pipeline) flushOnce(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	n := len(p.queue)
	if n > p.config.BatchSize {
		n = p.config.BatchSize
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	p.mu.Unlock()

	if err := p.sendBatch(ctx, batch); err != nil {
		p.requeue(batch)
		return err
	}

	p.totalSent.Add(int64(len(batch)))
	return nil
}

// requeue puts a failed batch back at the front of the queue, dropping
// any event that has exhausted its retry budget
func (p *Pipeline) requeue(batch []*Event) {
	kept := make([]*Event, 0, len(batch))
	for _, ev := range batch {
		ev.attempts++
		if ev.attempts > p.config.RetryAttempts {
			p.totalDropped.Add(1)
			if p.metrics != nil {
				p.metrics.IncTrackingDropped()
			}
			logger.Log.Error().
				Str("event_type", string(ev.Type)).
				Str("bid_id", ev.BidID).
				Str("lead_id", ev.LeadID).
				Int("attempts", ev.attempts).
				Msg("dropping tracking event past retry ceiling")
			continue
		}
		p.totalRetried.Add(1)
		kept = append(kept, ev)
	}

	if len(kept) == 0 {
		return
	}

	p.mu.Lock()
	p.queue = append(kept, p.queue...)
	p.mu.Unlock()
}

// Flush synchronously drains the queue, batch by batch. It stops at the
// first delivery failure; the failed batch is already requeued.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		remaining := len(p.queue)
		p.mu.Unlock()

		if remaining == 0 {
			return nil
		}
		if err := p.flushOnce(ctx); err != nil {
			return err
		}
	}
}

// Close stops the flush loop and drains remaining events
func (p *Pipeline) Close() error {
	close(p.stopCh)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()
	return p.Flush(ctx)
}

// sendOne posts a single event to the collector's immediate endpoint
func (p *Pipeline) sendOne(ctx context.Context, ev *Event) error {
	return p.post(ctx, "/event", ev)
}

// sendBatch posts a batch to the collector's batch endpoint
func (p *Pipeline) sendBatch(ctx context.Context, batch []*Event) error {
	return p.post(ctx, "/batch", batch)
}

func (p *Pipeline) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tracking payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.CollectorURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create tracking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send tracking request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}

	return nil
}

// Stats holds pipeline counters for monitoring
type Stats struct {
	TotalQueued  int64 `json:"total_queued"`
	TotalSent    int64 `json:"total_sent"`
	TotalDropped int64 `json:"total_dropped"`
	TotalRetried int64 `json:"total_retried"`
	Pending      int   `json:"pending"`
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	pending := len(p.queue)
	p.mu.Unlock()

	return Stats{
		TotalQueued:  p.totalQueued.Load(),
		TotalSent:    p.totalSent.Load(),
		TotalDropped: p.totalDropped.Load(),
		TotalRetried: p.totalRetried.Load(),
		Pending:      pending,
	}
}
