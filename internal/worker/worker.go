// Package worker runs the per-partition batch and commit loop.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"kafkasink/internal/batch"
	sinkerr "kafkasink/internal/errors"
	"kafkasink/internal/logger"
	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
	"kafkasink/internal/processor"
)

// Committer persists a partition's next offset to read. Commit blocks until
// the broker acknowledges it.
type Committer interface {
	Commit(ctx context.Context, target models.CommitTarget) error
}

// CommitPolicy decides whether a failed batch is committed
type CommitPolicy string

const (
	// CommitAlways commits every batch whatever its processing result
	CommitAlways CommitPolicy = "always"
	// CommitOnSuccess withholds the commit of a failed batch
	CommitOnSuccess CommitPolicy = "on_success"
)

// CommitOrder decides how commits of concurrent batches are ordered
type CommitOrder string

const (
	// CommitUnordered commits each batch as soon as it completes. A slow
	// batch may commit after a later one and move the offset backwards.
	CommitUnordered CommitOrder = "unordered"
	// CommitSequenced only commits once every earlier batch has completed
	CommitSequenced CommitOrder = "sequenced"
)

// Config holds partition worker configuration
type Config struct {
	Processor processor.BatchProcessor
	Committer Committer

	MaxBatchSize int
	MaxBatchWait time.Duration

	// MaxInFlight caps concurrently processed batches per partition, 0 is unbounded
	MaxInFlight int

	CommitPolicy CommitPolicy
	CommitOrder  CommitOrder
}

// Worker processes partitions. One Worker serves every partition of a
// consumer; each partition runs in its own ProcessPartition call.
type Worker struct {
	processor    processor.BatchProcessor
	committer    Committer
	maxBatchSize int
	maxBatchWait time.Duration
	maxInFlight  int
	policy       CommitPolicy
	order        CommitOrder

	mu         sync.RWMutex
	partitions map[models.TopicPartition]*PartitionStatus

	// Metrics
	batchesProcessed atomic.Uint64
	batchesFailed    atomic.Uint64
	records          atomic.Uint64
	commitsOK        atomic.Uint64
	commitsFailed    atomic.Uint64
	commitsWithheld  atomic.Uint64
}

// New creates a Worker
func New(cfg Config) *Worker {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = batch.DefaultMaxSize
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = batch.DefaultMaxWait
	}
	if cfg.MaxInFlight < 0 {
		cfg.MaxInFlight = 0
	}
	if cfg.CommitPolicy == "" {
		cfg.CommitPolicy = CommitAlways
	}
	if cfg.CommitOrder == "" {
		cfg.CommitOrder = CommitUnordered
	}

	return &Worker{
		processor:    cfg.Processor,
		committer:    cfg.Committer,
		maxBatchSize: cfg.MaxBatchSize,
		maxBatchWait: cfg.MaxBatchWait,
		maxInFlight:  cfg.MaxInFlight,
		policy:       cfg.CommitPolicy,
		order:        cfg.CommitOrder,
		partitions:   make(map[models.TopicPartition]*PartitionStatus),
	}
}

// ProcessPartition batches records and dispatches every batch concurrently,
// committing each batch's target when it completes. It returns once records
// is closed, all dispatched batches have finished and the processor's
// OnStreamEnd has run; the result is OnStreamEnd's error.
//
// Cancelling ctx does not abort in-flight batches: the caller stops the
// partition by closing records, and batches already formed still complete
// and commit.
func (w *Worker) ProcessPartition(ctx context.Context, tp models.TopicPartition, records <-chan models.RawRecord) error {
	log := logger.WithPartition("worker", tp)
	w.startPartition(tp)

	metrics.ActivePartitions.Inc()
	defer metrics.ActivePartitions.Dec()

	log.Info().
		Int("max_batch_size", w.maxBatchSize).
		Dur("max_batch_wait", w.maxBatchWait).
		Int("max_in_flight", w.maxInFlight).
		Str("commit_policy", string(w.policy)).
		Str("commit_order", string(w.order)).
		Msg("Partition worker started")

	dispatchCtx := context.WithoutCancel(ctx)
	batches := batch.New(w.maxBatchSize, w.maxBatchWait).Batches(records)

	var sem *semaphore.Weighted
	if w.maxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(w.maxInFlight))
	}
	var seq *sequencer
	if w.order == CommitSequenced {
		seq = newSequencer(w, tp, log)
	}

	var wg sync.WaitGroup
	var n uint64
	for {
		w.setState(tp, StateAwaitingBatch)
		b, ok := <-batches
		if !ok {
			break
		}

		w.setState(tp, StateDispatching)
		if sem != nil {
			// Never fails: dispatchCtx is not cancellable
			_ = sem.Acquire(dispatchCtx, 1)
		}

		w.addInFlight(tp, 1)
		wg.Add(1)
		go func(b models.Batch, n uint64) {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			defer w.addInFlight(tp, -1)
			w.dispatch(dispatchCtx, log, b, n, seq)
		}(b, n)
		n++
	}

	w.setState(tp, StateDraining)
	log.Info().Msg("Input closed, draining in-flight batches")
	wg.Wait()

	err := w.processor.OnStreamEnd(dispatchCtx)
	w.finishPartition(tp, err)
	if err != nil {
		log.Error().Err(err).Msg("Partition finished with error")
		return err
	}
	log.Info().Uint64("batches", n).Msg("Partition worker finished")
	return nil
}

// dispatch processes one batch and commits its target
func (w *Worker) dispatch(ctx context.Context, log zerolog.Logger, b models.Batch, n uint64, seq *sequencer) {
	target, _ := b.CommitTarget()
	start := time.Now()

	err := w.process(ctx, log, b)
	duration := time.Since(start)

	metrics.BatchSize.Observe(float64(b.Len()))
	metrics.BatchProcessDuration.Observe(duration.Seconds())
	w.records.Add(uint64(b.Len()))

	if err != nil {
		w.batchesFailed.Add(1)
		metrics.BatchResultsTotal.WithLabelValues("failed").Inc()
		log.Error().
			Err(err).
			Str("kind", string(sinkerr.KindOf(err))).
			Bool("retryable", sinkerr.IsRetryable(err)).
			Int("batch_size", b.Len()).
			Int64("commit_offset", target.Offset).
			Dur("duration", duration).
			Msg("Failed to process batch")
	} else {
		w.batchesProcessed.Add(1)
		metrics.BatchResultsTotal.WithLabelValues("success").Inc()
		log.Debug().
			Int("batch_size", b.Len()).
			Int64("commit_offset", target.Offset).
			Dur("duration", duration).
			Msg("Batch processed")
	}

	if seq != nil {
		seq.complete(ctx, n, target, err == nil)
		return
	}

	if err != nil && w.policy == CommitOnSuccess {
		w.withhold(log, target)
		return
	}
	w.commit(ctx, log, target)
}

// process runs the processor, turning a panic into a batch error
func (w *Worker) process(ctx context.Context, log zerolog.Logger, b models.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Batch processor panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			err = fmt.Errorf("batch processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, b)
}

func (w *Worker) commit(ctx context.Context, log zerolog.Logger, target models.CommitTarget) {
	if err := w.committer.Commit(ctx, target); err != nil {
		w.commitsFailed.Add(1)
		metrics.CommitsTotal.WithLabelValues("failed").Inc()
		log.Error().
			Err(sinkerr.NewCommitError("commit rejected", err)).
			Int64("offset", target.Offset).
			Msg("Failed to commit offset")
		return
	}

	w.commitsOK.Add(1)
	metrics.CommitsTotal.WithLabelValues("success").Inc()
	metrics.CommittedOffset.WithLabelValues(target.Topic, strconv.Itoa(int(target.Partition))).Set(float64(target.Offset))
	w.setCommitted(target)
	log.Debug().Int64("offset", target.Offset).Msg("Offset committed")
}

func (w *Worker) withhold(log zerolog.Logger, target models.CommitTarget) {
	w.commitsWithheld.Add(1)
	metrics.CommitsTotal.WithLabelValues("withheld").Inc()
	log.Warn().Int64("offset", target.Offset).Msg("Commit withheld for failed batch")
}

// Stats returns worker statistics across all partitions
func (w *Worker) Stats() Stats {
	return Stats{
		BatchesProcessed: w.batchesProcessed.Load(),
		BatchesFailed:    w.batchesFailed.Load(),
		Records:          w.records.Load(),
		CommitsSucceeded: w.commitsOK.Load(),
		CommitsFailed:    w.commitsFailed.Load(),
		CommitsWithheld:  w.commitsWithheld.Load(),
	}
}

// Stats holds worker metrics
type Stats struct {
	BatchesProcessed uint64 `json:"batches_processed"`
	BatchesFailed    uint64 `json:"batches_failed"`
	Records          uint64 `json:"records"`
	CommitsSucceeded uint64 `json:"commits_succeeded"`
	CommitsFailed    uint64 `json:"commits_failed"`
	CommitsWithheld  uint64 `json:"commits_withheld"`
}

// Partitions returns the status of every partition seen, ordered by topic and partition
func (w *Worker) Partitions() []PartitionStatus {
	w.mu.RLock()
	out := make([]PartitionStatus, 0, len(w.partitions))
	for _, s := range w.partitions {
		out = append(out, *s)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
