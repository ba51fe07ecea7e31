package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"kafkasink/internal/kafka"
	"kafkasink/internal/logger"
)

// Publisher sends generated messages to the broker
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []kafka.Message) error
}

// Config holds load generation settings
type Config struct {
	// Total is the number of logs to produce
	Total int
	// Rate is logs per second, 0 is unlimited
	Rate        int
	ReportEvery int
	// BatchSize caps messages per publish call
	BatchSize int
	// Linger flushes a partial batch after this long
	Linger time.Duration
}

// Runner produces Total generated logs at Rate
type Runner struct {
	pub     Publisher
	gen     *Generator
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewRunner(pub Publisher, gen *Generator, cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 100 * time.Millisecond
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 5000
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Runner{
		pub:     pub,
		gen:     gen,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.WithComponent("loadgen"),
	}
}

// Run produces logs until Total is reached or ctx is cancelled, and returns
// the number of logs published
func (r *Runner) Run(ctx context.Context) (int, error) {
	r.logger.Info().
		Int("total", r.cfg.Total).
		Int("rate", r.cfg.Rate).
		Msg("Starting log producer")

	var (
		sent       int
		pending    = make([]kafka.Message, 0, r.cfg.BatchSize)
		start      = time.Now()
		batchStart = start
		lastFlush  = start
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// Publish outside a cancelled ctx so queued logs are not lost on interrupt
		if err := r.pub.PublishBatch(context.WithoutCancel(ctx), pending); err != nil {
			return fmt.Errorf("publish %d logs: %w", len(pending), err)
		}
		sent += len(pending)
		pending = pending[:0]
		lastFlush = time.Now()
		return nil
	}

	for produced := 0; produced < r.cfg.Total; produced++ {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Warn().Msg("Interrupted, flushing remaining messages")
			if ferr := flush(); ferr != nil {
				return sent, ferr
			}
			return sent, nil
		}

		line := r.gen.Next()
		data, err := json.Marshal(line)
		if err != nil {
			return sent, err
		}
		pending = append(pending, kafka.Message{Value: data, Time: time.Now()})

		if len(pending) >= r.cfg.BatchSize || time.Since(lastFlush) >= r.cfg.Linger {
			if err := flush(); err != nil {
				return sent, err
			}
		}

		if n := produced + 1; n%r.cfg.ReportEvery == 0 {
			if err := flush(); err != nil {
				return sent, err
			}
			now := time.Now()
			batchElapsed := now.Sub(batchStart)
			r.logger.Info().
				Int("messages", n).
				Dur("batch_elapsed", batchElapsed).
				Dur("total_elapsed", now.Sub(start)).
				Float64("rate", float64(r.cfg.ReportEvery)/batchElapsed.Seconds()).
				Msg("Progress")
			batchStart = now
		}
	}

	if err := flush(); err != nil {
		return sent, err
	}
	r.logger.Info().
		Int("messages", sent).
		Dur("elapsed", time.Since(start)).
		Msg("Reached total logs limit")
	return sent, nil
}
