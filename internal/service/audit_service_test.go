package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingStore collects appended records.
type recordingStore struct {
	mu      sync.Mutex
	records []audit.ToolCallRecord
	batches int
	delay   time.Duration
	err     error
}

func (r *recordingStore) Append(_ context.Context, records ...audit.ToolCallRecord) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, records...)
	r.batches++
	return nil
}

func (r *recordingStore) Flush(context.Context) error { return nil }
func (r *recordingStore) Close() error                { return nil }

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func TestAuditService_StopDrainsBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(50), WithFlushInterval(time.Hour))
	svc.Start(context.Background())

	for i := 0; i < 20; i++ {
		_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: fmt.Sprintf("query_t%d", i)})
	}
	svc.Stop()

	if got := store.count(); got != 20 {
		t.Errorf("stored %d records, want 20", got)
	}
	if svc.Written() != 20 {
		t.Errorf("Written() = %d, want 20", svc.Written())
	}
	// Stop is idempotent and later appends are dropped.
	svc.Stop()
	_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "late"})
	if svc.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", svc.Dropped())
	}
}

func TestAuditService_Flush(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	svc.Start(context.Background())
	defer svc.Stop()

	for i := 0; i < 3; i++ {
		_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "insert_themes"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if got := store.count(); got != 3 {
		t.Errorf("after Flush stored %d records, want 3", got)
	}
}

func TestAuditService_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{delay: 50 * time.Millisecond}
	var hooked int
	var hookMu sync.Mutex
	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(2),
		WithBatchSize(1),
		WithSendTimeout(5*time.Millisecond),
		WithDropHook(func() {
			hookMu.Lock()
			hooked++
			hookMu.Unlock()
		}),
	)
	svc.Start(context.Background())

	for i := 0; i < 10; i++ {
		_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "query_themes"})
	}
	svc.Stop()

	drops := svc.Dropped()
	if drops == 0 {
		t.Fatal("expected drops with a slow store and a tiny buffer")
	}
	hookMu.Lock()
	defer hookMu.Unlock()
	if int64(hooked) != drops {
		t.Errorf("drop hook ran %d times, Dropped() = %d", hooked, drops)
	}
	if total := int64(store.count()) + drops; total != 10 {
		t.Errorf("stored + dropped = %d, want 10", total)
	}
	if svc.Capacity() != 2 {
		t.Errorf("Capacity() = %d, want 2", svc.Capacity())
	}
}

func TestAuditService_StoreErrorsAreSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{err: errors.New("disk full")}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(1))
	svc.Start(context.Background())

	if err := svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "delete_themes"}); err != nil {
		t.Errorf("Append() error = %v, want nil", err)
	}
	svc.Stop()
	if svc.Written() != 0 {
		t.Errorf("Written() = %d, want 0", svc.Written())
	}
}

func TestAuditService_ContextCancelDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{}
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	svc.Start(ctx)

	for i := 0; i < 5; i++ {
		_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "query_roles"})
	}
	cancel()
	// Appends after cancellation still reach the store once Stop closes the buffer.
	_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "query_roles"})
	svc.Stop()

	if got := store.count(); got != 6 {
		t.Errorf("stored %d records, want 6", got)
	}
}

func TestAuditService_FlushAfterCancelReturns(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{}
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewAuditService(store, discardLogger(), WithFlushInterval(time.Hour))
	svc.Start(ctx)
	defer svc.Stop()

	_ = svc.Append(context.Background(), audit.ToolCallRecord{ToolName: "query_roles"})
	cancel()
	select {
	case <-svc.halted:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not halt after cancellation")
	}

	fctx, fcancel := context.WithTimeout(context.Background(), time.Second)
	defer fcancel()
	if err := svc.Flush(fctx); err != nil {
		t.Fatalf("Flush() after cancel error: %v", err)
	}
	if got := store.count(); got != 1 {
		t.Errorf("stored %d records, want 1", got)
	}
}

func TestAuditService_ConcurrentAppend(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &recordingStore{}
	svc := NewAuditService(store, discardLogger(), WithChannelSize(10_000), WithBatchSize(64))
	svc.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = svc.Append(context.Background(), audit.ToolCallRecord{UserID: fmt.Sprintf("u%d", g)})
			}
		}(g)
	}
	wg.Wait()
	svc.Stop()

	if got := int64(store.count()) + svc.Dropped(); got != 800 {
		t.Errorf("stored + dropped = %d, want 800", got)
	}
}
