package search

import (
	"context"
	"testing"
)

// fakeProvider serves canned embeddings by exact text, falling back to a
// default vector for anything unmapped.
type fakeProvider struct {
	vectors  map[string][]float32
	def      []float32
	imageVec []float32
	err      error
	notReady bool

	textCalls int
}

func (p *fakeProvider) Ready() bool { return !p.notReady }

func (p *fakeProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	p.textCalls++
	if p.err != nil {
		return nil, p.err
	}
	if v, ok := p.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	out := make([]float32, len(p.def))
	copy(out, p.def)
	return out, nil
}

func (p *fakeProvider) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.imageVec != nil {
		return p.imageVec, nil
	}
	return p.def, nil
}

// Unit vectors for steering similarities in tests.
var (
	axisA = []float32{1, 0, 0, 0}
	axisB = []float32{0, 1, 0, 0}
	// nearA has cosine 0.9 with axisA and ~0.44 with axisB.
	nearA = []float32{0.9, 0.43588989, 0, 0}
)

func TestClassifyConfidentCategory(t *testing.T) {
	provider := &fakeProvider{
		vectors: map[string][]float32{
			"trash pile": axisA,
			"trash":      nearA,
		},
		def: axisB,
	}
	c := NewClassifier(provider, nil)

	cls := c.Classify(context.Background(), "trash")

	if cls.Category != CategoryObjectOnly {
		t.Errorf("expected objectOnly, got %s", cls.Category)
	}
	if !cls.IsConfident {
		t.Error("expected a confident classification")
	}
	if cls.Confidence < 0.89 || cls.Confidence > 0.91 {
		t.Errorf("expected confidence ~0.9, got %f", cls.Confidence)
	}
	if len(cls.AllScores) != 5 {
		t.Errorf("expected scores for all 5 categories, got %d", len(cls.AllScores))
	}
}

func TestClassifyAmbiguousFallsBackToGeneral(t *testing.T) {
	// Every exemplar and the query map to the same vector, so all
	// categories tie and no winner clears the margin.
	provider := &fakeProvider{def: axisB}
	c := NewClassifier(provider, nil)

	cls := c.Classify(context.Background(), "something")

	if cls.Category != CategoryGeneral {
		t.Errorf("expected general fallback, got %s", cls.Category)
	}
	if cls.IsConfident {
		t.Error("expected an unconfident classification")
	}
}

func TestClassifyEmbeddingErrorFallsBackToGeneral(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded, def: axisB}
	c := NewClassifier(provider, nil)

	cls := c.Classify(context.Background(), "trash")

	if cls.Category != CategoryGeneral {
		t.Errorf("expected general fallback on error, got %s", cls.Category)
	}
	if cls.Confidence != 0 {
		t.Errorf("expected zero confidence, got %f", cls.Confidence)
	}
}

func TestClassifyMemoizesExemplarEmbeddings(t *testing.T) {
	provider := &fakeProvider{def: axisB}
	c := NewClassifier(provider, nil)
	ctx := context.Background()

	c.Classify(ctx, "first")
	after := provider.textCalls

	c.Classify(ctx, "second")

	// Only the query itself is embedded on subsequent calls.
	if provider.textCalls != after+1 {
		t.Errorf("exemplars re-embedded: %d calls after first, %d after second", after, provider.textCalls)
	}
}
