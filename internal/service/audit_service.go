package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

// AuditService buffers tool call records and writes them to a store in
// batches from a background worker. Append never blocks longer than the
// send timeout, so slow audit sinks cannot stall tool execution.
type AuditService struct {
	store  audit.AuditStore
	logger *slog.Logger

	records  chan audit.ToolCallRecord
	flushReq chan chan struct{}
	capacity int

	batchSize     int
	flushInterval time.Duration
	sendTimeout   time.Duration
	pressurePct   int
	onDrop        func()
	lastDepthWarn atomic.Int64
	dropped       atomic.Int64
	written       atomic.Int64

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	halted   chan struct{}
	haltOnce sync.Once
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets how many records are written per store call.
func WithBatchSize(n int) AuditOption {
	return func(s *AuditService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithFlushInterval sets the maximum age of a partial batch.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(s *AuditService) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithChannelSize sets the buffer capacity.
func WithChannelSize(n int) AuditOption {
	return func(s *AuditService) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSendTimeout bounds how long Append waits on a full buffer before
// dropping. Zero drops immediately.
func WithSendTimeout(d time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = d
	}
}

// WithPressureThreshold sets the buffer fill percentage at which the worker
// flushes early and logs a capacity warning. Zero disables both.
func WithPressureThreshold(pct int) AuditOption {
	return func(s *AuditService) {
		s.pressurePct = min(max(pct, 0), 100)
	}
}

// WithDropHook registers a callback run for every dropped record.
func WithDropHook(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

// NewAuditService creates an AuditService writing to store.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:         store,
		logger:        logger,
		capacity:      1000,
		batchSize:     100,
		flushInterval: time.Second,
		sendTimeout:   100 * time.Millisecond,
		pressurePct:   80,
		flushReq:      make(chan chan struct{}),
		halted:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = make(chan audit.ToolCallRecord, s.capacity)
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Append enqueues records. Records that do not fit within the send timeout
// are dropped and counted; Append itself never fails.
func (s *AuditService) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range records {
		if s.stopped {
			s.drop(r, "stopped")
			continue
		}
		s.enqueue(ctx, r)
	}
	return nil
}

func (s *AuditService) enqueue(ctx context.Context, r audit.ToolCallRecord) {
	if s.underPressure() {
		s.warnDepth()
	}
	select {
	case s.records <- r:
		return
	default:
	}
	if s.sendTimeout <= 0 {
		s.drop(r, "buffer full")
		return
	}
	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- r:
	case <-timer.C:
		s.drop(r, "buffer full")
	case <-ctx.Done():
		s.drop(r, "context done")
	}
}

func (s *AuditService) drop(r audit.ToolCallRecord, reason string) {
	total := s.dropped.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.logger.Warn("audit record dropped",
		"reason", reason,
		"tool", r.ToolName,
		"session_id", r.SessionID,
		"total_drops", total,
	)
}

func (s *AuditService) underPressure() bool {
	if s.pressurePct == 0 {
		return false
	}
	return len(s.records)*100 >= s.capacity*s.pressurePct
}

// warnDepth logs at most once per second.
func (s *AuditService) warnDepth() {
	now := time.Now().UnixNano()
	last := s.lastDepthWarn.Load()
	if now-last < int64(time.Second) || !s.lastDepthWarn.CompareAndSwap(last, now) {
		return
	}
	depth := len(s.records)
	s.logger.Warn("audit buffer approaching capacity",
		"depth", depth,
		"capacity", s.capacity,
	)
}

// Flush waits until every record enqueued before the call has been handed
// to the store.
func (s *AuditService) Flush(ctx context.Context) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return s.store.Flush(ctx)
	}
	done := make(chan struct{})
	select {
	case s.flushReq <- done:
	case <-s.halted:
		return s.store.Flush(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
	case <-s.halted:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.store.Flush(ctx)
}

// halt marks the worker as no longer serving flush requests.
func (s *AuditService) halt() {
	s.haltOnce.Do(func() { close(s.halted) })
}

// Close stops the worker after draining the buffer.
func (s *AuditService) Close() error {
	s.Stop()
	return nil
}

// Stop closes the buffer and waits for the worker to write what remains.
// Safe to call more than once.
func (s *AuditService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.records)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Dropped returns the number of records dropped so far.
func (s *AuditService) Dropped() int64 {
	return s.dropped.Load()
}

// Written returns the number of records handed to the store successfully.
func (s *AuditService) Written() int64 {
	return s.written.Load()
}

// Depth returns the number of buffered records.
func (s *AuditService) Depth() int {
	return len(s.records)
}

// Capacity returns the buffer size.
func (s *AuditService) Capacity() int {
	return s.capacity
}

func (s *AuditService) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.halt()

	batch := make([]audit.ToolCallRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fast := false

	write := func(wctx context.Context) {
		if len(batch) == 0 {
			return
		}
		s.write(wctx, batch)
		batch = batch[:0]
	}
	final := func() {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		write(wctx)
	}

	for {
		select {
		case r, ok := <-s.records:
			if !ok {
				final()
				return
			}
			batch = append(batch, r)
			pressure := s.underPressure()
			if len(batch) >= s.batchSize || pressure {
				write(ctx)
			}
			switch {
			case pressure && !fast:
				ticker.Reset(s.flushInterval / 4)
				fast = true
				s.logger.Debug("audit worker entering fast flush", "interval", s.flushInterval/4)
			case !pressure && fast:
				ticker.Reset(s.flushInterval)
				fast = false
				s.logger.Debug("audit worker returning to normal flush", "interval", s.flushInterval)
			}

		case done := <-s.flushReq:
			for drained := false; !drained; {
				select {
				case r, ok := <-s.records:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, r)
				default:
					drained = true
				}
			}
			write(ctx)
			close(done)

		case <-ticker.C:
			write(ctx)

		case <-ctx.Done():
			// Drain whatever is buffered now; later Appends are dropped once
			// Stop runs.
			for {
				select {
				case r, ok := <-s.records:
					if !ok {
						final()
						return
					}
					batch = append(batch, r)
				default:
					final()
					s.halt()
					s.drainAfterCancel()
					return
				}
			}
		}
	}
}

// drainAfterCancel keeps consuming until Stop closes the buffer so that
// Append callers never block on a dead worker.
func (s *AuditService) drainAfterCancel() {
	var late []audit.ToolCallRecord
	for r := range s.records {
		late = append(late, r)
	}
	if len(late) > 0 {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.write(wctx, late)
	}
}

// write hands one batch to the store. Errors are logged and not returned.
func (s *AuditService) write(ctx context.Context, batch []audit.ToolCallRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
		return
	}
	s.written.Add(int64(len(batch)))
}

var _ audit.AuditStore = (*AuditService)(nil)
