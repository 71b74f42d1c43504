// Package store persists captured frames and their embeddings.
package store

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps backend failures surfaced to callers.
var ErrStoreUnavailable = errors.New("frame store unavailable")

// Frame is one captured instant of a recording session. Frames are
// immutable once inserted and removed only by Clear.
type Frame struct {
	ID          string    `json:"id"`
	SessionName string    `json:"sessionName"`
	Location    string    `json:"location"`
	// Timestamp is the capture instant in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`
	// ImageData is the encoded still image (JPEG).
	ImageData []byte `json:"imageData"`
	// Embedding is L2-normalized at creation time. Its length is
	// constant across all frames in a store.
	Embedding []float32 `json:"-"`
}

// FrameStore is a durable keyed collection of frames. Implementations
// must keep embedding dimensionality fixed for the life of the store.
type FrameStore interface {
	// Insert assigns an ID to f, persists it and returns the ID.
	Insert(ctx context.Context, f *Frame) (string, error)
	// ScanAll returns every stored frame.
	ScanAll(ctx context.Context) ([]Frame, error)
	// Count returns the number of stored frames.
	Count(ctx context.Context) (int, error)
	// Locations returns the distinct locations with at least one frame.
	Locations(ctx context.Context) ([]string, error)
	// Clear removes every frame.
	Clear(ctx context.Context) error
}

// NearestSearcher is an optional FrameStore capability: backends with a
// vector index return the k frames nearest to embedding, nearest first.
// Callers that need location or time filtering still use ScanAll.
type NearestSearcher interface {
	Nearest(ctx context.Context, embedding []float32, k int) ([]Frame, error)
}
