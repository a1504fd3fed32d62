package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PGVectorStore 基于 Postgres + pgvector 的实现，每个集合一张表
type PGVectorStore struct {
	pool *pgxpool.Pool
}

// NewPGVectorPool 创建连接池并做连通性检查
func NewPGVectorPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgvector dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create pgvector pool: %w", ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping pgvector: %w", ErrStoreUnavailable, err)
	}
	return pool, nil
}

func NewPGVectorStore(pool *pgxpool.Pool) *PGVectorStore {
	return &PGVectorStore{pool: pool}
}

// 读取已存在表的 embedding 列维度；pgvector 把维度存在 atttypmod 中
const pgDimensionSQL = `
SELECT a.atttypmod
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relname = $1
  AND n.nspname = current_schema()
  AND c.relkind = 'r'
  AND a.attname = 'embedding'
  AND NOT a.attisdropped`

func (s *PGVectorStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: create extension: %w", ErrStoreUnavailable, err)
	}

	existing, found, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if found {
		if existing != dimension {
			return fmt.Errorf("%w: table %s has dimension %d, want %d", ErrSchemaConflict, name, existing, dimension)
		}
		return nil
	}

	table := pgx.Identifier{name}.Sanitize()
	index := pgx.Identifier{name + "_embedding_idx"}.Sanitize()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	embedding vector(%d) NOT NULL,
	text TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table, dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create table %s: %w", ErrStoreUnavailable, name, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)", index, table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("%w: create index on %s: %w", ErrStoreUnavailable, name, err)
	}

	// 另一个进程可能以不同维度抢先建表
	existing, _, err = s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if existing != dimension {
		return fmt.Errorf("%w: table %s has dimension %d, want %d", ErrSchemaConflict, name, existing, dimension)
	}
	logger.Info(ctx, "pgvector table ready", "table", name, "dim", dimension)
	return nil
}

func (s *PGVectorStore) dimension(ctx context.Context, name string) (int, bool, error) {
	var dim int32
	err := s.pool.QueryRow(ctx, pgDimensionSQL, name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: inspect table %s: %w", ErrStoreUnavailable, name, err)
	}
	return int(dim), true, nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, name string, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ValidateCollectionName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := checkDimensions(records, len(records[0].Vector)); err != nil {
		return err
	}

	upsertSQL := fmt.Sprintf(`INSERT INTO %s (id, embedding, text, payload, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	text = EXCLUDED.text,
	payload = EXCLUDED.payload,
	updated_at = now()`, pgx.Identifier{name}.Sanitize())

	batch := &pgx.Batch{}
	for _, r := range records {
		payload, err := sonic.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload for %s: %w", ErrWriteFailed, r.ID, err)
		}
		batch.Queue(upsertSQL, r.ID, pgvector.NewVector(r.Vector), r.Text(), string(payload))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%w: upsert %s into %s: %w", ErrWriteFailed, r.ID, name, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: close batch: %w", ErrWriteFailed, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	_, found, err := s.dimension(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return []Hit{}, nil
	}

	q := fmt.Sprintf(`SELECT id, text, 1 - (embedding <=> $1) AS score
FROM %s
ORDER BY embedding <=> $1, id
LIMIT $2`, pgx.Identifier{name}.Sanitize())
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", ErrStoreUnavailable, name, err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.ID, &h.Text, &score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", ErrStoreUnavailable, name, err)
	}
	return hits, nil
}
