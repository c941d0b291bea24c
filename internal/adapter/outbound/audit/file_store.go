// Package audit provides durable tool call audit sinks: JSON Lines files
// with daily and size rotation, and ClickHouse.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

// auditFilePattern matches tool-calls-YYYY-MM-DD.jsonl and tool-calls-YYYY-MM-DD-N.jsonl.
var auditFilePattern = regexp.MustCompile(`^tool-calls-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type auditFile struct {
	name   string
	date   string
	suffix int
}

func parseAuditFilename(name string) (auditFile, bool) {
	m := auditFilePattern.FindStringSubmatch(name)
	if m == nil {
		return auditFile{}, false
	}
	f := auditFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return auditFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

func auditFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("tool-calls-%s.jsonl", date)
	}
	return fmt.Sprintf("tool-calls-%s-%d.jsonl", date, suffix)
}

// FileConfig configures FileStore.
type FileConfig struct {
	Dir string
	// RetentionDays is how long files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB triggers rotation within a day (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept for queries (default 1000).
	CacheSize int
}

// FileStore appends tool call records as JSON Lines, one file per UTC day.
// Recent records stay queryable through an in-memory ring.
type FileStore struct {
	mu            sync.Mutex
	dir           string
	maxFileSize   int64
	retentionDays int
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	recent        *memory.AuditStore
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
	closed        bool
	now           func() time.Time
}

// NewFileStore opens today's file, removes expired files, loads the most
// recent records into the cache and starts hourly retention cleanup.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		recent:        memory.NewAuditStore(nil, cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
		now:           time.Now,
	}

	today := s.now().UTC().Format(time.DateOnly)
	if err := s.open(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}
	s.cleanup()
	s.loadRecent()

	go s.cleanupLoop(ctx)
	return s, nil
}

// Append writes records, rotating on date change or size limit.
func (s *FileStore) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit file store closed")
	}

	for _, r := range records {
		date := r.Timestamp.UTC().Format(time.DateOnly)
		switch {
		case date != s.currentDate:
			if err := s.rotate(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		case s.currentSize >= s.maxFileSize:
			if err := s.rotate(date, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.current.Write(append(line, '\n'))
		s.currentSize += int64(n)
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	return s.recent.Append(ctx, records...)
}

// Flush syncs the current file.
func (s *FileStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close stops cleanup and closes the current file. It is idempotent.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.current != nil {
		_ = s.current.Sync()
		err = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()
	<-s.done
	return err
}

// Query answers from the in-memory cache of recent records.
func (s *FileStore) Query(ctx context.Context, f audit.Filter) ([]audit.ToolCallRecord, error) {
	return s.recent.Query(ctx, f)
}

// Recent returns up to n cached records, newest first.
func (s *FileStore) Recent(n int) []audit.ToolCallRecord {
	return s.recent.Recent(n)
}

func (s *FileStore) open(date string, suffix int) error {
	name := auditFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit file %s: %w", name, err)
	}
	s.current, s.currentDate, s.currentSuffix, s.currentSize = f, date, suffix, info.Size()
	return nil
}

// rotate closes the current file and opens date/suffix. Callers hold mu.
func (s *FileStore) rotate(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}
	return s.open(date, suffix)
}

func (s *FileStore) files() []auditFile {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []auditFile
	for _, e := range entries {
		if f, ok := parseAuditFilename(e.Name()); ok {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].date != out[j].date {
			return out[i].date < out[j].date
		}
		return out[i].suffix < out[j].suffix
	})
	return out
}

func (s *FileStore) highestSuffix(date string) int {
	highest := 0
	for _, f := range s.files() {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// cleanup deletes files older than the retention period.
func (s *FileStore) cleanup() {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, f := range s.files() {
		day, err := time.Parse(time.DateOnly, f.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("audit cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// loadRecent fills the cache from the newest non-empty file.
func (s *FileStore) loadRecent() {
	files := s.files()
	for i := len(files) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, files[i].name)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			s.logger.Error("audit cache: failed to open file", "file", files[i].name, "error", err)
			return
		}
		defer func() { _ = f.Close() }()

		var records []audit.ToolCallRecord
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 256*1024), 1024*1024)
		for sc.Scan() {
			if len(sc.Bytes()) == 0 {
				continue
			}
			var r audit.ToolCallRecord
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				s.logger.Warn("audit cache: skipping malformed line", "file", files[i].name, "error", err)
				continue
			}
			records = append(records, r)
		}
		if err := sc.Err(); err != nil {
			s.logger.Error("audit cache: error reading file", "file", files[i].name, "error", err)
		}
		_ = s.recent.Append(context.Background(), records...)
		return
	}
}

var (
	_ audit.AuditStore = (*FileStore)(nil)
	_ audit.QueryStore = (*FileStore)(nil)
)
