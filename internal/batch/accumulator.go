// Package batch groups a partition's record stream into bounded batches.
package batch

import (
	"time"

	"kafkasink/internal/models"
)

const (
	DefaultMaxSize = 10000
	DefaultMaxWait = 10 * time.Second
)

// Accumulator closes a batch when it holds MaxSize records or when MaxWait
// has elapsed since the batch's first record arrived, whichever comes first.
type Accumulator struct {
	maxSize int
	maxWait time.Duration
}

// New creates an accumulator, falling back to defaults for non-positive limits
func New(maxSize int, maxWait time.Duration) *Accumulator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Accumulator{maxSize: maxSize, maxWait: maxWait}
}

// Batches consumes in until it is closed and emits non-empty batches in
// arrival order. The partial batch is flushed when in closes, then the
// returned channel is closed. Callers must drain the returned channel.
func (a *Accumulator) Batches(in <-chan models.RawRecord) <-chan models.Batch {
	out := make(chan models.Batch)
	go a.run(in, out)
	return out
}

func (a *Accumulator) run(in <-chan models.RawRecord, out chan<- models.Batch) {
	defer close(out)

	pending := make([]models.RawRecord, 0, a.initialCap())

	// The timer only runs while a batch is open; timeout is nil otherwise
	timer := time.NewTimer(a.maxWait)
	stopTimer(timer)
	defer timer.Stop()
	var timeout <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		out <- models.NewBatch(pending)
		// The emitted batch owns the old slice
		pending = make([]models.RawRecord, 0, a.initialCap())
	}

	for {
		select {
		case record, ok := <-in:
			if !ok {
				flush()
				return
			}

			if len(pending) == 0 {
				timer.Reset(a.maxWait)
				timeout = timer.C
			}
			pending = append(pending, record)

			if len(pending) >= a.maxSize {
				stopTimer(timer)
				timeout = nil
				flush()
			}

		case <-timeout:
			timeout = nil
			flush()
		}
	}
}

func (a *Accumulator) initialCap() int {
	if a.maxSize > 1024 {
		return 1024
	}
	return a.maxSize
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
