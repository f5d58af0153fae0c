package memory

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists memory records in PostgreSQL with pgvector.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string, dim int) (*PostgresBackend, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("postgres memory: embedding dimension must be positive")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_records_partition ON memory_records (user_id, kind, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_embedding ON memory_records USING hnsw (embedding vector_cosine_ops);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) Upsert(ctx context.Context, p Partition, doc Document) error {
	meta, err := sonic.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO memory_records (id, user_id, kind, content, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		 ON CONFLICT (id) DO NOTHING`,
		doc.ID,
		p.UserID,
		string(p.Kind),
		doc.Content,
		meta,
		vectorLiteral(doc.Embedding),
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory record: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Nearest(ctx context.Context, p Partition, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := b.pool.Query(ctx,
		`SELECT content FROM memory_records
		 WHERE user_id=$1 AND kind=$2
		 ORDER BY embedding <=> $3::vector, created_at
		 LIMIT $4`,
		p.UserID,
		string(p.Kind),
		vectorLiteral(query),
		k,
	)
	if err != nil {
		return nil, fmt.Errorf("query nearest memories: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, k)
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
