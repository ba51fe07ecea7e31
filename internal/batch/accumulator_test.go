package batch

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"kafkasink/internal/models"
)

func record(offset int64) models.RawRecord {
	return models.RawRecord{Topic: "logs", Partition: 0, Offset: offset, Payload: []byte(`{}`)}
}

func collect(out <-chan models.Batch) []models.Batch {
	var batches []models.Batch
	for b := range out {
		batches = append(batches, b)
	}
	return batches
}

func TestAccumulator_SizeClosesBatch(t *testing.T) {
	in := make(chan models.RawRecord, 10)
	out := New(5, time.Hour).Batches(in)

	for i := 0; i < 5; i++ {
		in <- record(int64(i))
	}

	select {
	case b := <-out:
		if b.Len() != 5 {
			t.Errorf("expected batch of 5, got %d", b.Len())
		}
		if b.Topic != "logs" || b.Partition != 0 {
			t.Errorf("unexpected partition %s", b.TopicPartition)
		}
	case <-time.After(time.Second):
		t.Fatal("full batch was not emitted")
	}

	close(in)
	if rest := collect(out); len(rest) != 0 {
		t.Errorf("expected no further batches, got %d", len(rest))
	}
}

// maxBatchSize=3, maxBatchWait scaled down: two records and no third within
// the window yields one batch of two, emitted at the deadline and not before.
func TestAccumulator_TimeoutClosesPartialBatch(t *testing.T) {
	const wait = 200 * time.Millisecond

	in := make(chan models.RawRecord, 10)
	out := New(3, wait).Batches(in)
	defer close(in)

	start := time.Now()
	in <- record(0)
	in <- record(1)

	select {
	case b := <-out:
		elapsed := time.Since(start)
		if b.Len() != 2 {
			t.Errorf("expected batch of 2, got %d", b.Len())
		}
		if elapsed < wait-10*time.Millisecond {
			t.Errorf("batch emitted early after %s", elapsed)
		}
	case <-time.After(5 * wait):
		t.Fatal("partial batch was not emitted on timeout")
	}
}

func TestAccumulator_NoEmptyBatches(t *testing.T) {
	in := make(chan models.RawRecord)
	out := New(10, 20*time.Millisecond).Batches(in)

	// Several windows pass with no input
	time.Sleep(100 * time.Millisecond)
	close(in)

	if batches := collect(out); len(batches) != 0 {
		t.Errorf("expected no batches, got %d", len(batches))
	}
}

func TestAccumulator_FlushOnClose(t *testing.T) {
	in := make(chan models.RawRecord, 10)
	out := New(100, time.Hour).Batches(in)

	for i := 0; i < 7; i++ {
		in <- record(int64(i))
	}
	close(in)

	batches := collect(out)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if batches[0].Len() != 7 {
		t.Errorf("expected 7 records, got %d", batches[0].Len())
	}
}

func TestAccumulator_TimerRestartsPerBatch(t *testing.T) {
	const wait = 100 * time.Millisecond

	in := make(chan models.RawRecord, 10)
	out := New(100, wait).Batches(in)
	defer close(in)

	in <- record(0)
	first := <-out

	// The next window starts with the next record, not on a fixed tick
	time.Sleep(3 * wait)
	start := time.Now()
	in <- record(1)
	second := <-out

	if first.Len() != 1 || second.Len() != 1 {
		t.Fatalf("unexpected batch sizes %d, %d", first.Len(), second.Len())
	}
	if elapsed := time.Since(start); elapsed < wait-10*time.Millisecond {
		t.Errorf("second batch emitted after %s, before its own window", elapsed)
	}
}

// For any input, batches never exceed the size bound, are never empty, and
// reproduce the input in order.
func TestProperty_BatchesAreBoundedAndOrdered(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("batches bounded, non-empty, order preserving", prop.ForAll(
		func(count, maxSize int) bool {
			in := make(chan models.RawRecord, count)
			for i := 0; i < count; i++ {
				in <- record(int64(i))
			}
			close(in)

			var next int64
			for b := range New(maxSize, time.Hour).Batches(in) {
				if b.Len() == 0 || b.Len() > maxSize {
					return false
				}
				for _, r := range b.Records {
					if r.Offset != next {
						return false
					}
					next++
				}
			}
			return next == int64(count)
		},
		gen.IntRange(0, 500),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
