package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facereg/internal/config"
	"github.com/your-org/facereg/internal/fusion"
)

// EmbeddingDim is the width of the mu and sigma_sq vector columns.
const EmbeddingDim = 512

const facesSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS faces (
	face_id   TEXT PRIMARY KEY,
	photo_id  TEXT NOT NULL,
	mu        vector(512) NOT NULL,
	sigma_sq  vector(512) NOT NULL,
	era_bin   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS faces_photo_id_idx ON faces (photo_id);`

// PostgresStore serves face embeddings and face→photo lookups written by the
// ingestion pipeline. The registry only ever reads from it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the faces table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, facesSchema); err != nil {
		return fmt.Errorf("ensure faces schema: %w", err)
	}
	return nil
}

// Get returns the probabilistic embedding of a face.
func (s *PostgresStore) Get(ctx context.Context, faceID string) (fusion.Embedding, error) {
	var (
		mu, sigmaSq pgvector.Vector
		eraBin      *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT mu, sigma_sq, era_bin FROM faces WHERE face_id = $1`, faceID,
	).Scan(&mu, &sigmaSq, &eraBin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fusion.Embedding{}, fmt.Errorf("%w: %s", fusion.ErrUnknownFace, faceID)
		}
		return fusion.Embedding{}, fmt.Errorf("get embedding %s: %w", faceID, err)
	}

	emb := fusion.Embedding{Mu: mu.Slice(), SigmaSq: sigmaSq.Slice()}
	if eraBin != nil {
		emb.EraBin = *eraBin
	}
	return emb, nil
}

// PutFace registers a face with its photo and embedding.
func (s *PostgresStore) PutFace(ctx context.Context, faceID, photoID string, emb fusion.Embedding) error {
	if emb.Dim() != EmbeddingDim || len(emb.SigmaSq) != EmbeddingDim {
		return fmt.Errorf("put face %s: %w", faceID, fusion.ErrDimensionMismatch)
	}
	var eraBin *string
	if emb.EraBin != "" {
		eraBin = &emb.EraBin
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO faces (face_id, photo_id, mu, sigma_sq, era_bin) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (face_id) DO NOTHING`,
		faceID, photoID, pgvector.NewVector(emb.Mu), pgvector.NewVector(emb.SigmaSq), eraBin)
	if err != nil {
		return fmt.Errorf("put face %s: %w", faceID, err)
	}
	return nil
}

// PhotosForFaces returns the distinct photos the given faces appear in.
func (s *PostgresStore) PhotosForFaces(ctx context.Context, faceIDs []string) (map[string]struct{}, error) {
	photos := make(map[string]struct{})
	if len(faceIDs) == 0 {
		return photos, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT photo_id FROM faces WHERE face_id = ANY($1)`, faceIDs)
	if err != nil {
		return nil, fmt.Errorf("photos for faces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var photoID string
		if err := rows.Scan(&photoID); err != nil {
			return nil, fmt.Errorf("scan photo id: %w", err)
		}
		photos[photoID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("photos for faces: %w", err)
	}
	return photos, nil
}
