package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryBackend is an exhaustive-search, in-process backend for local/dev use.
type InMemoryBackend struct {
	mu         sync.RWMutex
	partitions map[Partition][]Document
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{partitions: make(map[Partition][]Document)}
}

func (b *InMemoryBackend) Upsert(_ context.Context, p Partition, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.partitions[p] {
		if existing.ID == doc.ID {
			return nil
		}
	}
	doc.Embedding = append([]float32(nil), doc.Embedding...)
	b.partitions[p] = append(b.partitions[p], doc)
	return nil
}

func (b *InMemoryBackend) Nearest(_ context.Context, p Partition, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	b.mu.RLock()
	docs := b.partitions[p]
	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		s, err := cosine(query, d.Embedding)
		if err != nil {
			b.mu.RUnlock()
			return nil, err
		}
		ranked = append(ranked, scored{content: d.Content, score: s})
	}
	b.mu.RUnlock()

	// Stable so equally similar records keep insertion order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, r.content)
	}
	return out, nil
}

// Len reports how many records partition p holds.
func (b *InMemoryBackend) Len(p Partition) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.partitions[p])
}

func (b *InMemoryBackend) Close() error { return nil }
