package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"kafkasink/internal/models"
)

// fakeReader serves a fixed list of messages, then io.EOF
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	failFirst int
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return kafka.Message{}, errors.New("broker not available")
	}
	if len(f.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

// recordingHandler collects every record per partition
type recordingHandler struct {
	mu      sync.Mutex
	records map[models.TopicPartition][]models.RawRecord
	err     error
}

func (h *recordingHandler) ProcessPartition(ctx context.Context, tp models.TopicPartition, records <-chan models.RawRecord) error {
	for r := range records {
		h.mu.Lock()
		if h.records == nil {
			h.records = make(map[models.TopicPartition][]models.RawRecord)
		}
		h.records[tp] = append(h.records[tp], r)
		h.mu.Unlock()
	}
	return h.err
}

func TestConsumer_DemuxesPartitions(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Topic: "logs", Partition: 0, Offset: 0, Value: []byte(`{"a":1}`)},
		{Topic: "logs", Partition: 1, Offset: 0, Value: []byte(`{"a":2}`)},
		{Topic: "logs", Partition: 0, Offset: 1, Key: []byte("k")},
		{Topic: "logs", Partition: 1, Offset: 1, Value: []byte(`{"a":3}`)},
	}}
	handler := &recordingHandler{}
	c := newConsumer(reader, 10)

	if err := c.Run(context.Background(), handler); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	p0 := handler.records[models.TopicPartition{Topic: "logs", Partition: 0}]
	p1 := handler.records[models.TopicPartition{Topic: "logs", Partition: 1}]
	if len(p0) != 2 || len(p1) != 2 {
		t.Fatalf("expected 2 records per partition, got %d and %d", len(p0), len(p1))
	}
	if p0[0].Offset != 0 || p0[1].Offset != 1 {
		t.Errorf("partition order not preserved: %+v", p0)
	}
	if !p0[1].IsTombstone() || p0[1].KeyString() != "k" {
		t.Errorf("expected keyed tombstone, got %+v", p0[1])
	}
	if c.Running() {
		t.Error("consumer still reports running after Run returned")
	}
}

func TestConsumer_CommitConvertsOffset(t *testing.T) {
	reader := &fakeReader{}
	c := newConsumer(reader, 10)

	target := models.CommitTarget{TopicPartition: models.TopicPartition{Topic: "logs", Partition: 4}, Offset: 13}
	if err := c.Commit(context.Background(), target); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if len(reader.committed) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(reader.committed))
	}
	got := reader.committed[0]
	if got.Topic != "logs" || got.Partition != 4 || got.Offset != 12 {
		t.Errorf("expected logs/4 message offset 12, got %s/%d offset %d", got.Topic, got.Partition, got.Offset)
	}

	if err := c.Commit(context.Background(), models.CommitTarget{Offset: 0}); err == nil {
		t.Error("expected error for offset 0")
	}
}

func TestConsumer_RetriesFetchErrors(t *testing.T) {
	reader := &fakeReader{
		failFirst: 2,
		messages:  []kafka.Message{{Topic: "logs", Partition: 0, Offset: 5, Value: []byte(`{}`)}},
	}
	handler := &recordingHandler{}
	c := newConsumer(reader, 10)
	c.fetchBackoff = 10 * time.Millisecond

	if err := c.Run(context.Background(), handler); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(handler.records[models.TopicPartition{Topic: "logs", Partition: 0}]); got != 1 {
		t.Errorf("expected record after fetch errors, got %d", got)
	}
}

func TestConsumer_JoinsHandlerErrors(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{{Topic: "logs", Partition: 0, Offset: 0, Value: []byte(`{}`)}}}
	handler := &recordingHandler{err: errors.New("flush failed")}

	err := newConsumer(reader, 10).Run(context.Background(), handler)
	if err == nil {
		t.Fatal("expected handler error")
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	reader := &blockingReader{}
	c := newConsumer(reader, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &recordingHandler{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type blockingReader struct{}

func (blockingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (blockingReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error { return nil }
func (blockingReader) Close() error                                                   { return nil }

func TestToRawRecord(t *testing.T) {
	now := time.Now()
	rec := toRawRecord(kafka.Message{Topic: "t", Partition: 2, Offset: 9, Value: []byte{}, Time: now})
	if !rec.IsTombstone() {
		t.Error("empty value must map to a tombstone")
	}
	if rec.Key != nil {
		t.Error("empty key must map to nil")
	}
	if rec.Partition != 2 || rec.Offset != 9 || !rec.Timestamp.Equal(now) {
		t.Errorf("unexpected record %+v", rec)
	}
}

// gatedHandler holds every partition until release is closed
type gatedHandler struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (h *gatedHandler) ProcessPartition(ctx context.Context, tp models.TopicPartition, records <-chan models.RawRecord) error {
	<-h.release
	for range records {
		h.mu.Lock()
		h.count++
		h.mu.Unlock()
	}
	return nil
}

func TestConsumer_ReportsFullPartitionBuffer(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Topic: "logs", Partition: 0, Offset: 0, Value: []byte(`{}`)},
		{Topic: "logs", Partition: 0, Offset: 1, Value: []byte(`{}`)},
		{Topic: "logs", Partition: 0, Offset: 2, Value: []byte(`{}`)},
		{Topic: "logs", Partition: 1, Offset: 0, Value: []byte(`{}`)},
	}}
	handler := &gatedHandler{release: make(chan struct{})}
	c := newConsumer(reader, 1)
	c.stallAfter = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), handler) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.stalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.stalls.Load() == 0 {
		t.Fatal("expected a stalled send to be reported")
	}
	close(handler.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish after the partition drained")
	}
	if handler.count != 4 {
		t.Errorf("expected all 4 records delivered, got %d", handler.count)
	}
}
