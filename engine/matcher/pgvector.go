package matcher

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// PgvectorBackend delegates nearest-neighbor search to Postgres with the
// pgvector extension. Profile embeddings are upserted on first use of a
// corpus version, then ranking runs server-side with the cosine distance
// operator.
type PgvectorBackend struct {
	db         *sql.DB
	dimensions int
}

// NewPgvectorBackend opens the DSN and ensures the backing table exists.
func NewPgvectorBackend(dsn string, dimensions int) (*PgvectorBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	b := &PgvectorBackend{db: db, dimensions: dimensions}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *PgvectorBackend) migrate() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS department_embedding (
			department_id TEXT PRIMARY KEY,
			embedding vector NOT NULL,
			updated_ts BIGINT NOT NULL DEFAULT extract(epoch from now())
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrate department_embedding")
		}
	}
	return nil
}

// Nearest syncs the candidate vectors and ranks them by cosine similarity.
func (b *PgvectorBackend) Nearest(ctx context.Context, query []float32, candidates []ProfileVector) (SimilarityResult, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := b.upsert(ctx, c); err != nil {
			return nil, err
		}
		ids = append(ids, c.DepartmentID)
	}

	// <=> computes cosine distance (1 - cosine similarity), so ascending
	// distance order yields the best match first.
	stmt := `
		SELECT department_id, 1 - (embedding <=> $1) AS score
		FROM department_embedding
		WHERE department_id = ANY($2)
		ORDER BY embedding <=> $1
	`
	vector := pgvector.NewVector(query)
	rows, err := b.db.QueryContext(ctx, stmt, vector, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "vector search departments")
	}
	defer rows.Close()

	result := SimilarityResult{}
	for rows.Next() {
		var s Score
		var score float64
		if err := rows.Scan(&s.DepartmentID, &score); err != nil {
			return nil, errors.Wrap(err, "scan department score")
		}
		s.Score = clampScore(float32(score))
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *PgvectorBackend) upsert(ctx context.Context, pv ProfileVector) error {
	stmt := `
		INSERT INTO department_embedding (department_id, embedding, updated_ts)
		VALUES ($1, $2, extract(epoch from now()))
		ON CONFLICT (department_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_ts = EXCLUDED.updated_ts
	`
	if _, err := b.db.ExecContext(ctx, stmt, pv.DepartmentID, pgvector.NewVector(pv.Vector)); err != nil {
		return errors.Wrapf(err, "upsert embedding for department %s", pv.DepartmentID)
	}
	return nil
}

// Close releases the database connection pool.
func (b *PgvectorBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*PgvectorBackend)(nil)
