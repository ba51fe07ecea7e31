// Package streams tracks destination streams and their schemas.
package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"

	"kafkasink/internal/event"
	"kafkasink/internal/logger"
	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
	"kafkasink/internal/state"
)

const (
	keyPrefix     = "stream/"
	maxNameLength = 255
)

var (
	ErrInvalidStreamName = errors.New("invalid stream name")
	ErrStreamNotFound    = errors.New("stream not found")
)

// Stream describes one destination stream
type Stream struct {
	Name      string
	Type      models.StreamType
	CreatedAt time.Time
	Schema    *arrow.Schema
}

type streamRecord struct {
	Name      string            `json:"name"`
	Type      models.StreamType `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Schema    json.RawMessage   `json:"schema"`
}

// Registry creates streams on first use and keeps their schemas. All methods
// are safe for concurrent use; lookups of known streams only take a read lock.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	store   state.Store
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRegistry loads every stream persisted in store
func NewRegistry(ctx context.Context, store state.Store) (*Registry, error) {
	r := &Registry{
		streams: make(map[string]*Stream),
		store:   store,
		now:     time.Now,
		logger:  logger.WithComponent("streams"),
	}

	values, keys, err := store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("load stream catalog: %w", err)
	}
	for _, k := range keys {
		s, err := decodeStream(values[k])
		if err != nil {
			return nil, fmt.Errorf("load stream %s: %w", k, err)
		}
		r.streams[s.Name] = s
	}

	r.logger.Info().Int("streams", len(r.streams)).Msg("Stream catalog loaded")
	return r, nil
}

// ValidateName checks a stream name before it is created
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidStreamName, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidStreamName, name, c)
		}
	}
	return nil
}

// EnsureStreamExists creates the stream with an empty schema if it is unknown
func (r *Registry) EnsureStreamExists(ctx context.Context, name string, typ models.StreamType) error {
	r.mu.RLock()
	_, ok := r.streams[name]
	r.mu.RUnlock()
	if ok {
		return nil
	}

	if err := ValidateName(name); err != nil {
		return err
	}
	if !typ.IsValid() {
		return fmt.Errorf("unknown stream type %q", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[name]; ok {
		return nil
	}

	s := &Stream{
		Name:      name,
		Type:      typ,
		CreatedAt: r.now().UTC(),
		Schema:    event.EmptySchema(),
	}
	if err := r.persist(ctx, s); err != nil {
		return err
	}
	r.streams[name] = s

	metrics.StreamsCreatedTotal.Inc()
	r.logger.Info().
		Str("stream", name).
		Str("type", string(typ)).
		Msg("Stream created")
	return nil
}

// Schema returns the stream's current schema
func (r *Registry) Schema(ctx context.Context, name string) (*arrow.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	return s.Schema, nil
}

// CommitSchema merges schema into the stream's stored schema
func (r *Registry) CommitSchema(ctx context.Context, name string, schema *arrow.Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	merged, err := event.MergeSchemas(s.Schema, schema)
	if err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	if merged.Equal(s.Schema) {
		return nil
	}

	next := *s
	next.Schema = merged
	if err := r.persist(ctx, &next); err != nil {
		return err
	}
	r.streams[name] = &next

	metrics.SchemaCommitsTotal.WithLabelValues(name).Inc()
	r.logger.Info().
		Str("stream", name).
		Int("fields", merged.NumFields()).
		Msg("Stream schema updated")
	return nil
}

// Get returns a copy of the stream's description
func (r *Registry) Get(name string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	if !ok {
		return Stream{}, false
	}
	return *s, true
}

// List returns all streams ordered by name
func (r *Registry) List() []Stream {
	r.mu.RLock()
	out := make([]Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) persist(ctx context.Context, s *Stream) error {
	schema, err := event.EncodeSchema(s.Schema)
	if err != nil {
		return err
	}
	data, err := json.Marshal(streamRecord{
		Name:      s.Name,
		Type:      s.Type,
		CreatedAt: s.CreatedAt,
		Schema:    schema,
	})
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, keyPrefix+s.Name, data); err != nil {
		return fmt.Errorf("persist stream %s: %w", s.Name, err)
	}
	return nil
}

func decodeStream(data []byte) (*Stream, error) {
	var rec streamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	schema, err := event.DecodeSchema(rec.Schema)
	if err != nil {
		return nil, err
	}
	return &Stream{
		Name:      rec.Name,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt,
		Schema:    schema,
	}, nil
}
