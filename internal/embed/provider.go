// Package embed defines the embedding boundary of the search pipeline: a
// text encoder and an image encoder producing vectors in one joint space.
package embed

import (
	"context"
	"errors"
)

var (
	// ErrModelNotReady is returned while encoder models are still loading
	// or failed to load.
	ErrModelNotReady = errors.New("embedding models not ready")

	// ErrEmbeddingFailure is returned when an encoder produced no usable
	// vector for its input.
	ErrEmbeddingFailure = errors.New("failed to generate embedding")
)

// Provider converts text or an encoded still image into a fixed-length
// float vector. Both encoders must share one joint embedding space, so a
// text vector can be compared against an image vector directly.
type Provider interface {
	// Ready reports whether the underlying models are loaded. EmbedText
	// and EmbedImage return ErrModelNotReady until it is true.
	Ready() bool

	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, imageData []byte) ([]float32, error)
}
