package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/core/dbx"
	"github.com/markdave123-py/sopassistant/internal/models"
)

// PgVectorStore keeps chunks in Postgres with a pgvector embedding column
// and searches by cosine distance.
type PgVectorStore struct {
	db       *sql.DB
	dim      int
	defaultK int
}

var _ core.VectorStore = (*PgVectorStore)(nil)

// NewPgVectorStore opens the pool, pings, and migrates.
func NewPgVectorStore(ctx context.Context, dsn string, dim, defaultK int) (*PgVectorStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return newPgVectorStore(db, dim, defaultK), nil
}

func newPgVectorStore(db *sql.DB, dim, defaultK int) *PgVectorStore {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &PgVectorStore{db: db, dim: dim, defaultK: defaultK}
}

func (s *PgVectorStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Add upserts chunks in a single transaction.
func (s *PgVectorStore) Add(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := checkDim(chunks[i].Embedding, s.dim); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
	}

	const q = `
		INSERT INTO document_chunks
			(id, source, filename, chunk_id, file_type, content_hash, text, token_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			text = EXCLUDED.text,
			token_count = EXCLUDED.token_count,
			embedding = EXCLUDED.embedding,
			created_at = now()
	`
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range chunks {
			ch := &chunks[i]
			if _, err := stmt.ExecContext(ctx,
				ch.ID, ch.Source, ch.Filename, ch.ChunkID, ch.FileType, ch.ContentHash,
				ch.Text, ch.TokenCount, pgvector.NewVector(ch.Embedding),
			); err != nil {
				return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
			}
		}
		return nil
	})
}

func (s *PgVectorStore) DeleteBySource(ctx context.Context, sources ...string) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE source = ANY($1)`, pq.Array(sources))
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Search finds the k chunks nearest to query by cosine distance.
func (s *PgVectorStore) Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if err := checkDim(query, s.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = s.defaultK
	}

	const q = `
		SELECT id, source, filename, chunk_id, file_type, content_hash, text, token_count, created_at,
		       embedding <=> $1 AS distance
		FROM document_chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		c := &r.Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Filename, &c.ChunkID, &c.FileType, &c.ContentHash,
			&c.Text, &c.TokenCount, &c.CreatedAt, &r.Distance); err != nil {
			return nil, err
		}
		r.Score = 1 - r.Distance
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *PgVectorStore) Info(ctx context.Context) (models.CollectionInfo, error) {
	info := models.CollectionInfo{Name: core.CollectionName, Sources: []string{}}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM document_chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return info, fmt.Errorf("collection info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			src string
			n   int
		)
		if err := rows.Scan(&src, &n); err != nil {
			return info, err
		}
		info.Sources = append(info.Sources, src)
		info.Count += n
	}
	info.UniqueDocuments = len(info.Sources)
	return info, rows.Err()
}

func (s *PgVectorStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE document_chunks`); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}

func checkDim(v []float32, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("empty embedding")
	}
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("embedding dimension %d, want %d", len(v), dim)
	}
	return nil
}
