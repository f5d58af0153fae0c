package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects which of a user's two memory containers a record lives in.
type Kind string

const (
	// Episodic memory holds snippets of specific past exchanges.
	Episodic Kind = "episodic"
	// Semantic memory holds durable facts distilled about the user.
	Semantic Kind = "semantic"
)

// Kinds lists every memory kind in retrieval order.
var Kinds = []Kind{Semantic, Episodic}

func (k Kind) Valid() bool {
	return k == Episodic || k == Semantic
}

func (k Kind) idPrefix() string {
	if k == Episodic {
		return "ep"
	}
	return "sem"
}

var (
	ErrUnknownKind = errors.New("unknown memory kind")
	ErrMissingUser = errors.New("memory user id is required")
)

// Partition is the isolated container for one user's memories of one kind.
// Every backend operation is scoped to exactly one partition.
type Partition struct {
	UserID string
	Kind   Kind
}

// Name is the stable collection name of the partition, e.g. "user_42_semantic".
func (p Partition) Name() string {
	return fmt.Sprintf("user_%s_%s", p.UserID, p.Kind)
}

// Document is a record as handed to a backend, embedding included.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

// Embedder converts text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the vector-similarity storage the Store is built on.
// Implementations: InMemoryBackend, ChromemBackend, PostgresBackend.
type Backend interface {
	// Upsert stores doc in partition p. Records are immutable, so an existing
	// id is left untouched.
	Upsert(ctx context.Context, p Partition, doc Document) error

	// Nearest returns up to k contents of partition p ordered by descending
	// similarity to query. An empty partition yields an empty result.
	Nearest(ctx context.Context, p Partition, query []float32, k int) ([]string, error)

	Close() error
}
