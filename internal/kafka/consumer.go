package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"kafkasink/internal/config"
	"kafkasink/internal/logger"
	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
)

// PartitionHandler consumes the records of one partition until the channel
// is closed
type PartitionHandler interface {
	ProcessPartition(ctx context.Context, tp models.TopicPartition, records <-chan models.RawRecord) error
}

// messageReader is the subset of *kafka.Reader used by the consumer
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group and fans records out to
// one handler call per partition. It also serves as the handlers' committer.
type Consumer struct {
	reader          messageReader
	partitionBuffer int
	fetchBackoff    time.Duration
	stallAfter      time.Duration
	stalls          atomic.Uint64
	running         atomic.Bool
	closed          atomic.Bool
}

// NewConsumer creates a group consumer. Commits are synchronous: each Commit
// call returns once the broker has acknowledged it.
func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is required")
	}

	startOffset := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    startOffset,
		CommitInterval: 0,
		Dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	return newConsumer(reader, cfg.PartitionBuffer), nil
}

func newConsumer(reader messageReader, partitionBuffer int) *Consumer {
	if partitionBuffer <= 0 {
		partitionBuffer = 1000
	}
	return &Consumer{
		reader:          reader,
		partitionBuffer: partitionBuffer,
		fetchBackoff:    500 * time.Millisecond,
		stallAfter:      5 * time.Second,
	}
}

// Run fetches until ctx is cancelled or the reader is closed, then closes
// every partition channel and waits for the handlers to return. Handler
// errors are joined into the result.
func (c *Consumer) Run(ctx context.Context, handler PartitionHandler) error {
	log := logger.WithComponent("kafka_consumer")
	c.running.Store(true)
	defer c.running.Store(false)

	partitions := make(map[models.TopicPartition]chan models.RawRecord)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	log.Info().Msg("consumer started")

fetch:
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				break
			}
			metrics.ConsumerFetchErrors.Inc()
			log.Error().Err(err).Msg("failed to fetch message")
			select {
			case <-time.After(c.fetchBackoff):
				continue
			case <-ctx.Done():
				break fetch
			}
		}

		rec := toRawRecord(msg)
		tp := rec.TopicPartition()
		ch, ok := partitions[tp]
		if !ok {
			ch = make(chan models.RawRecord, c.partitionBuffer)
			partitions[tp] = ch
			log.Info().Str("topic", tp.Topic).Int32("partition", tp.Partition).Msg("partition assigned")

			wg.Add(1)
			go func(tp models.TopicPartition, ch <-chan models.RawRecord) {
				defer wg.Done()
				if err := handler.ProcessPartition(ctx, tp, ch); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("partition %s: %w", tp, err))
					mu.Unlock()
				}
			}(tp, ch)
		}

		metrics.RecordsConsumedTotal.WithLabelValues(tp.Topic, strconv.Itoa(int(tp.Partition))).Inc()
		if !c.send(ctx, log, ch, rec) {
			break fetch
		}
	}

	log.Info().Int("partitions", len(partitions)).Msg("consumer stopping, draining partitions")
	for _, ch := range partitions {
		close(ch)
	}
	wg.Wait()

	log.Info().Msg("consumer stopped")
	return errors.Join(errs...)
}

// send hands rec to its partition and reports false once ctx is cancelled.
// The reader fetches all partitions through one stream, so a full partition
// buffer holds back every partition; each stallAfter spent waiting is logged
// and counted.
func (c *Consumer) send(ctx context.Context, log zerolog.Logger, ch chan<- models.RawRecord, rec models.RawRecord) bool {
	select {
	case ch <- rec:
		return true
	case <-ctx.Done():
		return false
	default:
	}

	timer := time.NewTimer(c.stallAfter)
	defer timer.Stop()
	for {
		select {
		case ch <- rec:
			return true
		case <-ctx.Done():
			return false
		case <-timer.C:
			c.stalls.Add(1)
			metrics.ConsumerStallsTotal.WithLabelValues(rec.Topic, strconv.Itoa(int(rec.Partition))).Inc()
			log.Warn().
				Str("topic", rec.Topic).
				Int32("partition", rec.Partition).
				Int64("offset", rec.Offset).
				Int("buffer", cap(ch)).
				Msg("partition buffer full, fetching blocked for all partitions")
			timer.Reset(c.stallAfter)
		}
	}
}

// Commit marks target.Offset as the next offset to read. kafka-go commits
// one past the message offset it is given.
func (c *Consumer) Commit(ctx context.Context, target models.CommitTarget) error {
	if target.Offset <= 0 {
		return fmt.Errorf("invalid commit offset %d", target.Offset)
	}
	return c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     target.Topic,
		Partition: int(target.Partition),
		Offset:    target.Offset - 1,
	})
}

// Running reports whether Run is fetching
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Close closes the underlying reader, which also ends Run
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.reader.Close()
}

// toRawRecord maps a broker message; an empty value is a tombstone
func toRawRecord(msg kafka.Message) models.RawRecord {
	rec := models.RawRecord{
		Topic:     msg.Topic,
		Partition: int32(msg.Partition),
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
	if len(msg.Key) > 0 {
		rec.Key = msg.Key
	}
	if len(msg.Value) > 0 {
		rec.Payload = msg.Value
	}
	return rec
}
