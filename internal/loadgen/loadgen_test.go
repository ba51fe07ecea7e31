package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kafkasink/internal/event"
	"kafkasink/internal/kafka"
)

type mockPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
}

func (m *mockPublisher) PublishBatch(ctx context.Context, msgs []kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestGenerator_ProducesValidLines(t *testing.T) {
	g := NewGenerator(42)
	for i := 0; i < 200; i++ {
		line := g.Next()
		if err := line.Validate(); err != nil {
			t.Fatalf("generated invalid line %+v: %v", line, err)
		}
		if line.Response.LatencyMS < 10 || line.Response.LatencyMS > 1000 {
			t.Errorf("latency out of range: %d", line.Response.LatencyMS)
		}
	}
}

func TestLogLine_Validate(t *testing.T) {
	valid := NewGenerator(1).Next()

	tests := []struct {
		name   string
		mutate func(*LogLine)
		want   error
	}{
		{"valid", func(*LogLine) {}, nil},
		{"no correlation id", func(l *LogLine) { l.CorrelationID = "" }, ErrEmptyCorrelationID},
		{"bad timestamp", func(l *LogLine) { l.Timestamp = "yesterday" }, ErrInvalidTimestamp},
		{"bad level", func(l *LogLine) { l.Level = "FATAL" }, ErrInvalidSeverity},
		{"no message", func(l *LogLine) { l.Message = "" }, ErrEmptyMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := valid
			tt.mutate(&line)
			if err := line.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// Generated logs flatten into the columns the sink stores
func TestLogLine_Flattens(t *testing.T) {
	data, err := json.Marshal(NewGenerator(7).Next())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rows, err := event.JSON{}.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, col := range []string{"pod_name", "request_remote_address", "response_status_code", "metadata_environment"} {
		if _, ok := rows[0][col]; !ok {
			t.Errorf("missing column %s in %v", col, rows[0])
		}
	}
}

func TestRunner_ProducesTotal(t *testing.T) {
	pub := &mockPublisher{}
	r := NewRunner(pub, NewGenerator(1), Config{Total: 250, ReportEvery: 100, BatchSize: 40})

	sent, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sent != 250 || pub.count() != 250 {
		t.Errorf("expected 250 published, got %d (%d)", sent, pub.count())
	}
	for _, b := range pub.batches {
		if len(b) > 40 {
			t.Errorf("batch of %d exceeds batch size", len(b))
		}
	}
}

func TestRunner_RateLimits(t *testing.T) {
	pub := &mockPublisher{}
	r := NewRunner(pub, NewGenerator(1), Config{Total: 10, Rate: 50})

	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// 10 logs at 50/s with a burst of 1 take at least 9 intervals of 20ms
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected rate limiting, finished in %s", elapsed)
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	pub := &mockPublisher{}
	r := NewRunner(pub, NewGenerator(1), Config{Total: 1000000, Rate: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sent, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sent == 0 || sent >= 1000000 {
		t.Errorf("expected a partial run, got %d", sent)
	}
	if sent != pub.count() {
		t.Errorf("pending logs not flushed: sent %d, published %d", sent, pub.count())
	}
}

func TestRunner_PublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	r := NewRunner(pub, NewGenerator(1), Config{Total: 5})

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}
}
