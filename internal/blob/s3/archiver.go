package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// maxBuffered caps the in-memory archive buffer. When the scanner outruns
// the flush interval the oldest records are shed; the Postgres store remains
// the complete history.
const maxBuffered = 10000

// Archiver buffers emitted opportunities and flushes them as JSONL objects
// to S3 on an interval. Object keys are partitioned by day so downstream
// batch jobs can consume the archive incrementally:
//
//	opportunities/2026/08/25/143000.jsonl
type Archiver struct {
	writer   domain.BlobWriter
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.Opportunity
	dropped int
}

// NewArchiver creates an archiver flushing on the given interval.
func NewArchiver(writer domain.BlobWriter, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Archiver{
		writer:   writer,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Add buffers one opportunity for the next flush. Never blocks.
func (a *Archiver) Add(opp domain.Opportunity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) >= maxBuffered {
		a.pending = a.pending[1:]
		a.dropped++
	}
	a.pending = append(a.pending, opp)
}

// Run flushes on the interval until the context is cancelled, then performs
// a final flush so shutdown does not lose the tail of the buffer.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// flush uploads the pending batch, if any. On upload failure the batch is
// put back so the next tick retries it.
func (a *Archiver) flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	dropped := a.dropped
	a.pending = nil
	a.dropped = 0
	a.mu.Unlock()

	if dropped > 0 {
		a.logger.Warn("archive buffer overflow", slog.Int("dropped", dropped))
	}
	if len(batch) == 0 {
		return
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		a.logger.Error("archive marshal failed", slog.Any("error", err))
		return
	}

	path := archivePath(batch[len(batch)-1].DetectedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		a.logger.Error("archive upload failed",
			slog.String("path", path),
			slog.Int("records", len(batch)),
			slog.Any("error", err),
		)
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		if len(a.pending) > maxBuffered {
			a.pending = a.pending[len(a.pending)-maxBuffered:]
		}
		a.mu.Unlock()
		return
	}

	a.logger.Debug("archive flushed",
		slog.String("path", path),
		slog.Int("records", len(batch)),
	)
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(opps []domain.Opportunity) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range opps {
		if err := enc.Encode(&opps[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the day-partitioned object key for a batch ending at t.
func archivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("opportunities/%04d/%02d/%02d/%02d%02d%02d.jsonl",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}
