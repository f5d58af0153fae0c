package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/reliability"
)

// Store is the per-user, two-kind memory service the reply pipeline reads
// from and writes to. It owns embedding, redaction and retry; the Backend only
// stores vectors.
type Store struct {
	backend  Backend
	embedder Embedder
	log      zerolog.Logger
	metrics  *observability.Metrics

	redact       bool
	attempts     int
	retryInitial time.Duration
	now          func() time.Time
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithRedaction masks emails, card numbers and phone numbers before content
// is embedded or stored.
func WithRedaction(enabled bool) Option {
	return func(s *Store) { s.redact = enabled }
}

// WithWriteRetry retries transient write failures up to attempts total tries.
func WithWriteRetry(attempts int, initial time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if initial > 0 {
			s.retryInitial = initial
		}
	}
}

func NewStore(backend Backend, embedder Embedder, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		embedder:     embedder,
		log:          zerolog.Nop(),
		attempts:     1,
		retryInitial: 100 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores content as a new record in the (userID, kind) partition and
// returns its id. Failures are returned to the caller.
func (s *Store) Write(ctx context.Context, kind Kind, userID, content string, metadata map[string]string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUser
	}

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	if s.redact {
		r := policy.RedactPII(content)
		if r.Changed() {
			content = r.Text
			meta["pii_redacted"] = r.Label()
		}
	}

	doc := Document{
		ID:        kind.idPrefix() + "_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Content:   content,
		Metadata:  meta,
		CreatedAt: s.now().UTC(),
	}
	p := Partition{UserID: userID, Kind: kind}

	op := func() error {
		if doc.Embedding == nil {
			vec, err := s.embedder.Embed(ctx, content)
			if err != nil {
				return classify(fmt.Errorf("embed: %w", err))
			}
			doc.Embedding = vec
		}
		if err := s.backend.Upsert(ctx, p, doc); err != nil {
			return classify(fmt.Errorf("upsert %s: %w", p.Name(), err))
		}
		return nil
	}

	err := backoff.Retry(op, s.retryPolicy(ctx))
	if err != nil {
		s.metrics.ObserveMemoryWrite(string(kind), "error")
		s.log.Warn().Err(err).Str("user_id", userID).Str("kind", string(kind)).Msg("memory write failed")
		return "", err
	}
	s.metrics.ObserveMemoryWrite(string(kind), "ok")
	s.log.Debug().Str("user_id", userID).Str("kind", string(kind)).Str("id", doc.ID).Msg("memory written")
	return doc.ID, nil
}

// Search returns up to limit contents from the (userID, kind) partition,
// most similar to query first. It never fails: an empty partition or a
// backend error both yield an empty result, the latter logged and counted.
func (s *Store) Search(ctx context.Context, kind Kind, userID, query string, limit int) []string {
	if limit <= 0 || !kind.Valid() || strings.TrimSpace(userID) == "" {
		return []string{}
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err == nil {
		var out []string
		out, err = s.backend.Nearest(ctx, Partition{UserID: userID, Kind: kind}, vec, limit)
		if err == nil {
			s.metrics.ObserveMemorySearch(string(kind), "ok")
			if out == nil {
				out = []string{}
			}
			return out
		}
	}
	s.metrics.ObserveMemorySearch(string(kind), "error")
	s.log.Warn().Err(err).Str("user_id", userID).Str("kind", string(kind)).Msg("memory search degraded to empty")
	return []string{}
}

func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInitial
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.attempts-1)), ctx)
}

func classify(err error) error {
	if reliability.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
