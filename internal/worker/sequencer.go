package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
)

type completion struct {
	target models.CommitTarget
	ok     bool
}

// sequencer commits a partition's batches in formation order. Batches are
// numbered as they are formed; a completed batch is committed only once all
// lower-numbered batches have completed, and only the highest contiguous
// target is sent to the broker.
type sequencer struct {
	w   *Worker
	tp  models.TopicPartition
	log zerolog.Logger

	mu      sync.Mutex
	next    uint64
	done    map[uint64]completion
	blocked bool
}

func newSequencer(w *Worker, tp models.TopicPartition, log zerolog.Logger) *sequencer {
	return &sequencer{
		w:    w,
		tp:   tp,
		log:  log,
		done: make(map[uint64]completion),
	}
}

// complete records the result of batch n and commits whatever became
// contiguous. Commits are issued while holding the lock so they reach the
// broker in increasing offset order.
func (s *sequencer) complete(ctx context.Context, n uint64, target models.CommitTarget, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blocked {
		s.w.commitsWithheld.Add(1)
		metrics.CommitsTotal.WithLabelValues("withheld").Inc()
		return
	}
	s.done[n] = completion{target: target, ok: ok}

	var highest *models.CommitTarget
	for {
		c, found := s.done[s.next]
		if !found {
			break
		}
		if !c.ok && s.w.policy == CommitOnSuccess {
			// Nothing past a failed batch may be committed, or its records
			// would be skipped on restart
			s.blocked = true
			s.w.withhold(s.log, c.target)
			s.log.Warn().
				Int64("offset", c.target.Offset).
				Msg("Commits blocked for partition until restart")
			if waiting := len(s.done) - 1; waiting > 0 {
				s.w.commitsWithheld.Add(uint64(waiting))
				metrics.CommitsTotal.WithLabelValues("withheld").Add(float64(waiting))
			}
			s.done = nil
			break
		}
		t := c.target
		highest = &t
		delete(s.done, s.next)
		s.next++
	}

	if highest != nil {
		s.w.commit(ctx, s.log, *highest)
	}
}
