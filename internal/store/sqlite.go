package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/framesight/framesight/internal/vectormath"
)

// SQLiteStore is the default FrameStore backend. Embeddings are stored
// as little-endian float32 blobs.
type SQLiteStore struct {
	db *sql.DB

	mu  sync.Mutex
	dim int
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS frames (
		id TEXT PRIMARY KEY,
		session_name TEXT NOT NULL,
		location TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		image_data BLOB NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_location ON frames(location);
	CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON frames(timestamp);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, f *Frame) (string, error) {
	if err := s.checkDim(ctx, len(f.Embedding)); err != nil {
		return "", err
	}

	f.ID = uuid.New().String()

	query := `
		INSERT INTO frames (id, session_name, location, timestamp, image_data, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		f.ID,
		f.SessionName,
		f.Location,
		f.Timestamp,
		f.ImageData,
		encodeEmbedding(f.Embedding),
	)
	if err != nil {
		return "", fmt.Errorf("%w: inserting frame: %v", ErrStoreUnavailable, err)
	}
	return f.ID, nil
}

// checkDim enforces constant embedding dimensionality for the life of
// the store; an existing table seeds the expected size lazily.
func (s *SQLiteStore) checkDim(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		var blob []byte
		err := s.db.QueryRowContext(ctx, "SELECT embedding FROM frames LIMIT 1").Scan(&blob)
		switch {
		case err == sql.ErrNoRows:
			s.dim = dim
			return nil
		case err != nil:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		default:
			s.dim = len(blob) / 4
		}
	}

	if dim != s.dim {
		return fmt.Errorf("%w: store holds %d-dimensional embeddings, got %d", vectormath.ErrDimensionMismatch, s.dim, dim)
	}
	return nil
}

func (s *SQLiteStore) ScanAll(ctx context.Context) ([]Frame, error) {
	query := `
		SELECT id, session_name, location, timestamp, image_data, embedding
		FROM frames
		ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying frames: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var blob []byte
		if err := rows.Scan(&f.ID, &f.SessionName, &f.Location, &f.Timestamp, &f.ImageData, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning frame: %v", ErrStoreUnavailable, err)
		}
		f.Embedding = decodeEmbedding(blob)
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return frames, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM frames").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting frames: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *SQLiteStore) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT location FROM frames ORDER BY location")
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

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM frames"); err != nil {
		return fmt.Errorf("%w: clearing frames: %v", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	s.dim = 0
	s.mu.Unlock()
	return nil
}

func encodeEmbedding(v []float32) []byte {
	blob := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(x))
	}
	return blob
}

func decodeEmbedding(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
