package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend stores each partition as its own chromem-go collection.
// With a path the database is persisted to disk, otherwise it lives in memory.
type ChromemBackend struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemBackend(path string) (*ChromemBackend, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}
	return &ChromemBackend{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (b *ChromemBackend) collection(p Partition) (*chromem.Collection, error) {
	name := p.Name()
	b.mu.RLock()
	col, ok := b.collections[name]
	b.mu.RUnlock()
	if ok {
		return col, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if col, ok := b.collections[name]; ok {
		return col, nil
	}
	// Embeddings are always supplied by the Store, so the collection never
	// needs an embedding func of its own.
	col, err := b.db.GetOrCreateCollection(name, map[string]string{
		"user_id": p.UserID,
		"kind":    string(p.Kind),
	}, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	b.collections[name] = col
	return col, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, p Partition, doc Document) error {
	col, err := b.collection(p)
	if err != nil {
		return err
	}
	if _, err := col.GetByID(ctx, doc.ID); err == nil {
		return nil
	}
	meta := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["created_at"] = doc.CreatedAt.UTC().Format(time.RFC3339Nano)

	return col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Metadata:  meta,
		Embedding: doc.Embedding,
		Content:   doc.Content,
	})
}

func (b *ChromemBackend) Nearest(ctx context.Context, p Partition, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := b.collection(p)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the collection size.
	if n := col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", p.Name(), err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out, nil
}

// Close is a no-op: persistent chromem databases write through on every add.
func (b *ChromemBackend) Close() error { return nil }

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem collection has no embedding func")
}
