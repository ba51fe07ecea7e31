// Package storage stages converted events on local disk and ships finalized
// segments to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"

	"kafkasink/internal/event"
	"kafkasink/internal/logger"
	"kafkasink/internal/metrics"
)

var ErrStoreClosed = errors.New("store is closed")

// SchemaCommitter records a stream's schema the first time events with new
// columns are stored
type SchemaCommitter interface {
	CommitSchema(ctx context.Context, name string, schema *arrow.Schema) error
}

// Uploader ships a finalized segment to durable storage
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Options configures a LocalStore
type Options struct {
	Dir string

	// MaxSegmentRows rotates a segment once it holds this many rows, 0 disables
	MaxSegmentRows int64

	// SyncWrites fsyncs the segment after every event
	SyncWrites bool

	// MaxSegmentAge rotates a segment once it has been open this long, 0 disables.
	// Age is checked by Rotate, not on every write.
	MaxSegmentAge time.Duration

	Uploader          Uploader
	UploadPrefix      string
	DeleteAfterUpload bool
}

// LocalStore appends events to per-stream segment files. Store is safe for
// concurrent use; writes to one stream are serialized.
type LocalStore struct {
	opts    Options
	schemas SchemaCommitter
	locks   *streamLocker
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	segments map[string]*segment
	ready    []string
	closed   bool
}

// NewLocalStore creates the staging directory
func NewLocalStore(opts Options, schemas SchemaCommitter) (*LocalStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("storage dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		opts:     opts,
		schemas:  schemas,
		locks:    newStreamLocker(),
		logger:   logger.WithComponent("storage"),
		now:      time.Now,
		segments: make(map[string]*segment),
	}, nil
}

// Store writes one event to its stream's open segment
func (s *LocalStore) Store(ctx context.Context, ev *event.Event) error {
	if ev == nil || ev.Record == nil {
		return errors.New("event has no record")
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	if ev.IsFirstEvent && s.schemas != nil {
		if err := s.schemas.CommitSchema(ctx, ev.StreamName, ev.Record.Schema()); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
	}

	unlock := s.locks.Lock(ev.StreamName)
	defer unlock()

	seg, err := s.segmentFor(ev)
	if err != nil {
		return err
	}
	if err := seg.write(ev.Record, s.opts.SyncWrites); err != nil {
		return fmt.Errorf("stream %s: %w", ev.StreamName, err)
	}

	metrics.StagedBytesTotal.WithLabelValues(ev.StreamName, ev.OriginFormat).Add(float64(ev.OriginSize))
	return nil
}

// segmentFor returns the open segment for the event's stream, rotating it
// when the schema changed or the row limit is reached. Caller holds the
// stream lock.
func (s *LocalStore) segmentFor(ev *event.Event) (*segment, error) {
	s.mu.Lock()
	seg := s.segments[ev.StreamName]
	s.mu.Unlock()

	if seg != nil {
		full := s.opts.MaxSegmentRows > 0 && seg.rows >= s.opts.MaxSegmentRows
		if full || !seg.schema.Equal(ev.Record.Schema()) {
			if err := s.finalize(seg); err != nil {
				return nil, err
			}
			seg = nil
		}
	}
	if seg != nil {
		return seg, nil
	}

	at := ev.ParsedTimestamp
	if at.IsZero() {
		at = time.Now()
	}
	seg, err := openSegment(s.opts.Dir, ev.StreamName, ev.Record.Schema(), at)
	if err != nil {
		return nil, err
	}
	seg.opened = s.now()
	s.mu.Lock()
	s.segments[ev.StreamName] = seg
	s.mu.Unlock()
	return seg, nil
}

// finalize closes seg and queues it for upload. Caller holds the stream lock.
func (s *LocalStore) finalize(seg *segment) error {
	s.mu.Lock()
	if s.segments[seg.stream] == seg {
		delete(s.segments, seg.stream)
	}
	s.mu.Unlock()

	path, err := seg.finalize()
	if err != nil {
		return fmt.Errorf("stream %s: %w", seg.stream, err)
	}

	s.mu.Lock()
	s.ready = append(s.ready, path)
	s.mu.Unlock()

	metrics.SegmentsFlushedTotal.WithLabelValues(seg.stream).Inc()
	s.logger.Info().
		Str("stream", seg.stream).
		Str("path", path).
		Int64("rows", seg.rows).
		Msg("Segment finalized")
	return nil
}

// Flush finalizes every open segment and uploads all finalized segments.
// Segments that fail to upload stay queued for the next upload.
func (s *LocalStore) Flush(ctx context.Context) error {
	return s.finalizeAndUpload(ctx, func(*segment) bool { return true })
}

// Rotate finalizes segments open longer than MaxSegmentAge and uploads every
// finalized segment, including those rotated by size or schema.
func (s *LocalStore) Rotate(ctx context.Context) error {
	if s.opts.MaxSegmentAge <= 0 {
		return s.upload(ctx)
	}
	cutoff := s.now().Add(-s.opts.MaxSegmentAge)
	return s.finalizeAndUpload(ctx, func(seg *segment) bool {
		return !seg.opened.After(cutoff)
	})
}

// Run calls Rotate every interval until ctx is cancelled
func (s *LocalStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rotate(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Periodic segment rotation failed")
			}
		}
	}
}

func (s *LocalStore) finalizeAndUpload(ctx context.Context, due func(*segment) bool) error {
	s.mu.Lock()
	streams := make([]string, 0, len(s.segments))
	for name := range s.segments {
		streams = append(streams, name)
	}
	s.mu.Unlock()
	sort.Strings(streams)

	var errs []error
	for _, name := range streams {
		unlock := s.locks.Lock(name)
		s.mu.Lock()
		seg := s.segments[name]
		s.mu.Unlock()
		if seg != nil && due(seg) {
			if err := s.finalize(seg); err != nil {
				errs = append(errs, err)
			}
		}
		unlock()
	}

	if err := s.upload(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *LocalStore) upload(ctx context.Context) error {
	s.mu.Lock()
	pending := s.ready
	s.ready = nil
	s.mu.Unlock()

	if s.opts.Uploader == nil || len(pending) == 0 {
		return nil
	}

	var errs []error
	var failed []string
	for _, path := range pending {
		key, err := s.objectKey(path)
		if err == nil {
			err = s.opts.Uploader.Upload(ctx, path, key)
		}
		if err != nil {
			metrics.SegmentUploadsTotal.WithLabelValues("failed").Inc()
			s.logger.Error().Err(err).Str("path", path).Msg("Segment upload failed")
			errs = append(errs, fmt.Errorf("upload %s: %w", path, err))
			failed = append(failed, path)
			continue
		}

		metrics.SegmentUploadsTotal.WithLabelValues("success").Inc()
		s.logger.Debug().Str("path", path).Str("key", key).Msg("Segment uploaded")
		if s.opts.DeleteAfterUpload {
			if err := os.Remove(path); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove uploaded segment")
			}
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.ready = append(failed, s.ready...)
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *LocalStore) objectKey(path string) (string, error) {
	rel, err := filepath.Rel(s.opts.Dir, path)
	if err != nil {
		return "", err
	}
	key := filepath.ToSlash(rel)
	if s.opts.UploadPrefix != "" {
		key = s.opts.UploadPrefix + "/" + key
	}
	return key, nil
}

// Recover finalizes segments left open by a previous process and queues them
// for upload. Call it before the first Store.
func (s *LocalStore) Recover(ctx context.Context) ([]string, error) {
	var recovered []string
	err := filepath.WalkDir(s.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPartFile(path) {
			return nil
		}
		final := path[:len(path)-len(partExt)]
		if err := os.Rename(path, final); err != nil {
			return fmt.Errorf("recover %s: %w", path, err)
		}
		recovered = append(recovered, final)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(recovered) > 0 {
		s.mu.Lock()
		s.ready = append(s.ready, recovered...)
		s.mu.Unlock()
		s.logger.Warn().Int("segments", len(recovered)).Msg("Recovered unfinished segments")
	}
	return recovered, nil
}

// OpenSegments returns the number of segments currently being written
func (s *LocalStore) OpenSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Close flushes and rejects further writes
func (s *LocalStore) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

func (s *LocalStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
