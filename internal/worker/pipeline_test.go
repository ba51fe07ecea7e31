package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"

	"kafkasink/internal/event"
	"kafkasink/internal/logger"
	"kafkasink/internal/models"
	"kafkasink/internal/processor"
)

type staticProvisioner struct{}

func (staticProvisioner) EnsureStreamExists(ctx context.Context, name string, typ models.StreamType) error {
	return nil
}

func (staticProvisioner) Schema(ctx context.Context, name string) (*arrow.Schema, error) {
	return event.EmptySchema(), nil
}

// countingFormat decodes JSON and records every payload it sees
type countingFormat struct {
	mu       sync.Mutex
	payloads []string
}

func (f *countingFormat) Name() string { return "json" }

func (f *countingFormat) Decode(payload []byte) ([]map[string]any, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, string(payload))
	f.mu.Unlock()
	return event.JSON{}.Decode(payload)
}

// failingStore rejects the n-th store call
type failingStore struct {
	failOn int64
	calls  atomic.Int64
}

func (s *failingStore) Store(ctx context.Context, ev *event.Event) error {
	if s.calls.Add(1) == s.failOn {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingStore) Flush(ctx context.Context) error { return nil }

func TestWorker_StoreFailureMidBatchStillCommits(t *testing.T) {
	var buf bytes.Buffer
	prev := logger.Logger
	logger.Logger = zerolog.New(&buf)
	defer func() { logger.Logger = prev }()

	format := &countingFormat{}
	store := &failingStore{failOn: 2}
	proc := processor.NewSinkProcessor(processor.Config{
		Provisioner: staticProvisioner{},
		Store:       store,
		Format:      format,
	})
	committer := &mockCommitter{}
	w := New(Config{
		Processor:    proc,
		Committer:    committer,
		MaxBatchSize: 3,
		MaxBatchWait: time.Hour,
	})

	records := make(chan models.RawRecord, 3)
	for i, payload := range []string{`{"a":1}`, `{"a":2}`, `{"a":3}`} {
		records <- models.RawRecord{Topic: tp.Topic, Partition: tp.Partition, Offset: int64(10 + i), Payload: []byte(payload)}
	}
	close(records)

	if err := w.ProcessPartition(context.Background(), tp, records); err != nil {
		t.Fatalf("ProcessPartition returned error: %v", err)
	}

	if got := store.calls.Load(); got != 2 {
		t.Errorf("expected 2 store calls, got %d", got)
	}
	if len(format.payloads) != 2 || format.payloads[1] != `{"a":2}` {
		t.Errorf("record after the failure must not be decoded, saw %v", format.payloads)
	}
	if offsets := committer.Offsets(); len(offsets) != 1 || offsets[0] != 13 {
		t.Errorf("expected a single commit of 13, got %v", offsets)
	}
	if stats := w.Stats(); stats.BatchesFailed != 1 || stats.CommitsSucceeded != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !strings.Contains(buf.String(), `"kind":"STORE"`) || !strings.Contains(buf.String(), `"retryable":true`) {
		t.Errorf("expected failure logged with kind and retryable, got %s", buf.String())
	}
}
