package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/framesight/framesight/internal/vectormath"
)

// MemoryStore keeps frames in RAM. It backs tests and ephemeral
// deployments where persistence across restarts is not needed.
type MemoryStore struct {
	mu     sync.RWMutex
	frames []Frame
	dim    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, f *Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(f.Embedding)
	} else if len(f.Embedding) != s.dim {
		return "", fmt.Errorf("%w: store holds %d-dimensional embeddings, got %d",
			vectormath.ErrDimensionMismatch, s.dim, len(f.Embedding))
	}

	f.ID = uuid.New().String()
	s.frames = append(s.frames, *f)
	return f.ID, nil
}

func (s *MemoryStore) ScanAll(ctx context.Context) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out, nil
}

// Nearest returns the k frames closest to embedding by cosine
// similarity, computed with an exact scan.
func (s *MemoryStore) Nearest(ctx context.Context, embedding []float32, k int) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: store holds %d-dimensional embeddings, got %d",
			vectormath.ErrDimensionMismatch, s.dim, len(embedding))
	}
	if k <= 0 {
		return []Frame{}, nil
	}

	type scored struct {
		frame Frame
		sim   float64
	}
	ranked := make([]scored, 0, len(s.frames))
	for _, f := range s.frames {
		sim, err := vectormath.CosineSimilarity(embedding, f.Embedding)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{frame: f, sim: sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	frames := make([]Frame, len(ranked))
	for i, r := range ranked {
		frames[i] = r.frame
	}
	return frames, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames), nil
}

func (s *MemoryStore) Locations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var locations []string
	for _, f := range s.frames {
		if !seen[f.Location] {
			seen[f.Location] = true
			locations = append(locations, f.Location)
		}
	}
	sort.Strings(locations)
	return locations, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.dim = 0
	return nil
}
