package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/framesight/framesight/internal/vectormath"
)

// PostgresConfig holds connection details for PostgreSQL deployments.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// Dim is the pgvector column dimensionality. Defaults to 512.
	Dim int
}

// PostgresStore is a FrameStore backed by PostgreSQL with the pgvector
// extension. Unlike the sqlite backend the embedding dimensionality is
// fixed by the column type at table creation.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.Dim == 0 {
		cfg.Dim = 512
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, dim: cfg.Dim}
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS frames (
		id TEXT PRIMARY KEY,
		session_name TEXT NOT NULL,
		location TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		image_data BYTEA NOT NULL,
		embedding vector(%d) NOT NULL
	)`, s.dim)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, f *Frame) (string, error) {
	if len(f.Embedding) != s.dim {
		return "", fmt.Errorf("%w: store holds %d-dimensional embeddings, got %d",
			vectormath.ErrDimensionMismatch, s.dim, len(f.Embedding))
	}

	f.ID = uuid.New().String()

	query := `
		INSERT INTO frames (id, session_name, location, timestamp, image_data, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		f.ID,
		f.SessionName,
		f.Location,
		f.Timestamp,
		f.ImageData,
		pgvector.NewVector(f.Embedding),
	)
	if err != nil {
		return "", fmt.Errorf("%w: inserting frame: %v", ErrStoreUnavailable, err)
	}
	return f.ID, nil
}

func (s *PostgresStore) ScanAll(ctx context.Context) ([]Frame, error) {
	query := `
		SELECT id, session_name, location, timestamp, image_data, embedding
		FROM frames
		ORDER BY timestamp`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying frames: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.SessionName, &f.Location, &f.Timestamp, &f.ImageData, &vec); err != nil {
			return nil, fmt.Errorf("%w: scanning frame: %v", ErrStoreUnavailable, err)
		}
		f.Embedding = vec.Slice()
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return frames, nil
}

// Nearest returns the k frames closest to embedding by cosine distance,
// ordered by the pgvector index instead of a full scan.
func (s *PostgresStore) Nearest(ctx context.Context, embedding []float32, k int) ([]Frame, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: store holds %d-dimensional embeddings, got %d",
			vectormath.ErrDimensionMismatch, s.dim, len(embedding))
	}
	if k <= 0 {
		return []Frame{}, nil
	}

	query := `
		SELECT id, session_name, location, timestamp, image_data, embedding
		FROM frames
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("%w: querying nearest frames: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.SessionName, &f.Location, &f.Timestamp, &f.ImageData, &vec); err != nil {
			return nil, fmt.Errorf("%w: scanning frame: %v", ErrStoreUnavailable, err)
		}
		f.Embedding = vec.Slice()
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return frames, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM frames").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting frames: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *PostgresStore) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT location FROM frames ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("%w: querying locations: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM frames"); err != nil {
		return fmt.Errorf("%w: clearing frames: %v", ErrStoreUnavailable, err)
	}
	return nil
}
