package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	// SegmentExt is the extension of a finalized segment: an Arrow IPC
	// stream inside snappy framing
	SegmentExt = ".arrows.sz"
	partExt    = ".part"
)

// segment is one open staging file for a stream
type segment struct {
	stream string
	path   string
	schema *arrow.Schema
	rows   int64
	opened time.Time

	file *os.File
	sz   *snappy.Writer
	w    *ipc.Writer
}

// segmentDir returns <dir>/<stream>/date=YYYY-MM-DD/hour=HH
func segmentDir(dir, stream string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(dir, stream, "date="+t.Format("2006-01-02"), fmt.Sprintf("hour=%02d", t.Hour()))
}

func openSegment(dir, stream string, schema *arrow.Schema, at time.Time) (*segment, error) {
	d := segmentDir(dir, stream, at)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}

	path := filepath.Join(d, uuid.New().String()+SegmentExt)
	f, err := os.OpenFile(path+partExt, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}

	sz := snappy.NewBufferedWriter(f)
	return &segment{
		stream: stream,
		path:   path,
		schema: schema,
		file:   f,
		sz:     sz,
		w:      ipc.NewWriter(sz, ipc.WithSchema(schema)),
	}, nil
}

func (s *segment) write(rec arrow.Record, sync bool) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	// Each write is a complete snappy frame on disk so a crash loses at most
	// the record being written
	if err := s.sz.Flush(); err != nil {
		return fmt.Errorf("flush segment: %w", err)
	}
	if sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync segment: %w", err)
		}
	}
	s.rows += rec.NumRows()
	return nil
}

// finalize closes the segment and moves it to its final name
func (s *segment) finalize() (string, error) {
	var errs []error
	if err := s.w.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ipc writer: %w", err))
	}
	if err := s.sz.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close snappy writer: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync segment: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close segment: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	if err := os.Rename(s.path+partExt, s.path); err != nil {
		return "", fmt.Errorf("rename segment: %w", err)
	}
	return s.path, nil
}

// ReadSegment reads every record of a segment file. Segments left open by a
// crash have no end-of-stream marker and are read up to the last full record.
// The caller owns the returned records and must release them.
func ReadSegment(path string) (*arrow.Schema, []arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r, err := ipc.NewReader(snappy.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		for _, rec := range records {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("read segment %s: %w", path, err)
	}
	return r.Schema(), records, nil
}

func isPartFile(path string) bool {
	return strings.HasSuffix(path, SegmentExt+partExt)
}
