// Package processor turns batches of broker records into stored events.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	sinkerr "kafkasink/internal/errors"
	"kafkasink/internal/event"
	"kafkasink/internal/logger"
	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
)

// BatchProcessor handles the batches of a partition. Process may be called
// concurrently for different batches; OnStreamEnd is called once after the
// partition's input is exhausted.
type BatchProcessor interface {
	Process(ctx context.Context, batch models.Batch) error
	OnStreamEnd(ctx context.Context) error
}

// Provisioner creates destination streams and serves their schemas. It is
// called for every record and is expected to memoize.
type Provisioner interface {
	EnsureStreamExists(ctx context.Context, name string, typ models.StreamType) error
	Schema(ctx context.Context, name string) (*arrow.Schema, error)
}

// EventStore is the durable write path for converted events
type EventStore interface {
	Store(ctx context.Context, ev *event.Event) error
	Flush(ctx context.Context) error
}

// Config holds the collaborators of a SinkProcessor
type Config struct {
	Provisioner Provisioner
	Store       EventStore

	// Format decodes payloads, JSON when nil
	Format event.Format

	// StreamFor maps a topic to its stream name, identity when nil
	StreamFor func(topic string) string

	Allocator memory.Allocator
	Now       func() time.Time
}

// SinkProcessor converts each record of a batch into an event and stores it.
// The first failing record aborts the rest of the batch.
type SinkProcessor struct {
	provisioner Provisioner
	store       EventStore
	format      event.Format
	streamFor   func(string) string
	mem         memory.Allocator
	now         func() time.Time
	logger      zerolog.Logger
}

var _ BatchProcessor = (*SinkProcessor)(nil)

func NewSinkProcessor(cfg Config) *SinkProcessor {
	p := &SinkProcessor{
		provisioner: cfg.Provisioner,
		store:       cfg.Store,
		format:      cfg.Format,
		streamFor:   cfg.StreamFor,
		mem:         cfg.Allocator,
		now:         cfg.Now,
		logger:      logger.WithComponent("processor"),
	}
	if p.format == nil {
		p.format = event.JSON{}
	}
	if p.streamFor == nil {
		p.streamFor = func(topic string) string { return topic }
	}
	if p.mem == nil {
		p.mem = memory.DefaultAllocator
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *SinkProcessor) Process(ctx context.Context, batch models.Batch) error {
	for _, rec := range batch.Records {
		if err := p.processRecord(ctx, rec); err != nil {
			metrics.RecordErrorsTotal.WithLabelValues(string(sinkerr.KindOf(err))).Inc()
			return err
		}
	}
	return nil
}

func (p *SinkProcessor) processRecord(ctx context.Context, rec models.RawRecord) error {
	stream := p.streamFor(rec.Topic)
	where := fmt.Sprintf("%s offset %d", rec.TopicPartition(), rec.Offset)

	if err := p.provisioner.EnsureStreamExists(ctx, stream, models.StreamTypeUserDefined); err != nil {
		return sinkerr.NewProvisioningError("ensure stream "+stream+" for "+where, err)
	}

	if rec.IsTombstone() {
		metrics.TombstonesTotal.WithLabelValues(stream).Inc()
		p.logger.Warn().
			Str("topic", rec.Topic).
			Int32("partition", rec.Partition).
			Int64("offset", rec.Offset).
			Str("key", rec.KeyString()).
			Msg("Skipping record without payload")
		return nil
	}

	rows, err := p.format.Decode(rec.Payload)
	if err != nil {
		return sinkerr.NewDecodeError("decode "+where, err)
	}

	schema, err := p.provisioner.Schema(ctx, stream)
	if err != nil {
		return sinkerr.NewProvisioningError("schema of "+stream+" for "+where, err)
	}

	parsedAt := p.now()
	record, isFirst, err := event.ToRecord(p.mem, rows, schema, parsedAt)
	if err != nil {
		return sinkerr.NewConversionError("convert "+where, err)
	}

	ev := &event.Event{
		Record:                record,
		StreamName:            stream,
		OriginFormat:          p.format.Name(),
		OriginSize:            uint64(len(rec.Payload)),
		IsFirstEvent:          isFirst,
		ParsedTimestamp:       parsedAt,
		CustomPartitionValues: map[string]string{},
		StreamType:            models.StreamTypeUserDefined,
	}
	defer ev.Release()

	if ev.NumRows() == 0 {
		return nil
	}

	if err := p.store.Store(ctx, ev); err != nil {
		return sinkerr.NewStoreError("store "+where, err)
	}
	metrics.EventsStoredTotal.WithLabelValues(stream).Inc()
	return nil
}

// OnStreamEnd flushes pending writes
func (p *SinkProcessor) OnStreamEnd(ctx context.Context) error {
	if err := p.store.Flush(ctx); err != nil {
		return sinkerr.NewStoreError("flush", err)
	}
	return nil
}
