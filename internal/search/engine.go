package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/store"
	"github.com/framesight/framesight/internal/temporal"
	"github.com/framesight/framesight/internal/vectormath"
)

var (
	ErrEmptyQuery    = errors.New("search query is empty")
	ErrQueryTooShort = errors.New("search query is too short")
)

const defaultTopK = 10

// Per-category confidence thresholds on the rescaled [0,1] similarity
// scale. Queries classified without confidence fall back to general.
var thresholds = map[Category]float64{
	CategoryObjectOnly:       0.65,
	CategoryBehavioral:       0.61,
	CategorySequential:       0.63,
	CategoryPersonWithObject: 0.57,
	CategoryPersonAction:     0.54,
}

const generalThreshold = 0.58

// Object-only queries sit close to the general threshold and produce
// false positives there; a best match below this floor clears the whole
// result set. Kept as a stage separate from the threshold filter.
const objectOnlyFloor = 0.63

// The per-frame loop yields and checks for cancellation this often.
const yieldInterval = 50

// Result is one ranked frame match. Similarity is the max over all query
// variants, rescaled from cosine [-1,1] to [0,1].
type Result struct {
	FrameID            string  `json:"frameId"`
	SessionName        string  `json:"sessionName"`
	Location           string  `json:"location"`
	RecordingTimestamp int64   `json:"recordingTimestamp"`
	ImageData          []byte  `json:"imageData"`
	Similarity         float64 `json:"similarity"`
}

// Response carries the ranked results plus the query's classification
// for display.
type Response struct {
	Results    []Result `json:"results"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// Progress reports per-frame scoring progress to a UI callback. The
// callback is a collaborator, not part of ranking correctness.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// Engine orchestrates temporal parsing, classification, expansion,
// embedding, scoring and adaptive-threshold ranking.
type Engine struct {
	store      store.FrameStore
	provider   embed.Provider
	classifier *Classifier
	parser     *temporal.Parser
	logger     *slog.Logger

	now func() time.Time
}

func NewEngine(frames store.FrameStore, provider embed.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      frames,
		provider:   provider,
		classifier: NewClassifier(provider, logger),
		parser:     temporal.NewParser(),
		logger:     logger,
		now:        time.Now,
	}
}

// Search ranks stored frames against query and returns at most topK
// results in descending similarity order. locationFilter narrows the
// candidate set unless it is empty or the UI's "no selection" sentinel.
// onProgress, if non-nil, is invoked after each frame is scored.
func (e *Engine) Search(ctx context.Context, query string, topK int, locationFilter string, onProgress func(Progress)) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	parsed := e.parser.Parse(query, e.now())
	visual := strings.TrimSpace(parsed.VisualQuery)
	if len(visual) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrQueryTooShort, visual)
	}

	cls := e.classifier.Classify(ctx, visual)
	e.logger.Info("query classified",
		"query", visual, "category", cls.Category, "confidence", cls.Confidence)

	variants := Expand(visual, cls.Category)

	textEmbeddings := make([][]float32, 0, len(variants))
	for _, variant := range variants {
		emb, err := e.provider.EmbedText(ctx, variant)
		if err != nil {
			e.logger.Warn("variant embedding failed", "variant", variant, "error", err)
			continue
		}
		textEmbeddings = append(textEmbeddings, vectormath.Normalize(emb))
	}
	if len(textEmbeddings) == 0 {
		return nil, fmt.Errorf("embedding query variants: %w", embed.ErrEmbeddingFailure)
	}

	frames, err := e.store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading frames: %w", err)
	}

	candidates := filterFrames(frames, locationFilter, parsed.TimeRange)
	e.logger.Info("search candidates selected",
		"total", len(frames), "candidates", len(candidates), "variants", len(variants))
	if len(candidates) == 0 {
		return &Response{Results: []Result{}, Category: cls.Category, Confidence: cls.Confidence}, nil
	}

	matches := make([]Result, 0, len(candidates))
	for i, frame := range candidates {
		if i%yieldInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		}

		best := -1.0
		skip := false
		for _, textEmb := range textEmbeddings {
			sim, err := vectormath.CosineSimilarity(textEmb, frame.Embedding)
			if err != nil {
				e.logger.Warn("skipping frame with bad embedding", "frame", frame.ID, "error", err)
				skip = true
				break
			}
			if sim > best {
				best = sim
			}
		}

		if !skip {
			matches = append(matches, Result{
				FrameID:            frame.ID,
				SessionName:        frame.SessionName,
				Location:           frame.Location,
				RecordingTimestamp: frame.Timestamp,
				ImageData:          frame.ImageData,
				Similarity:         (best + 1) / 2,
			})
		}

		if onProgress != nil {
			onProgress(Progress{
				Current: i + 1,
				Total:   len(candidates),
				Status:  fmt.Sprintf("Analyzing frame %d/%d...", i+1, len(candidates)),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	threshold := thresholdFor(cls.Category)
	filtered := matches[:0]
	for _, m := range matches {
		if m.Similarity >= threshold {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	filtered = applyBestMatchFloor(filtered, cls.Category)

	e.logger.Info("search complete",
		"matches", len(matches), "returned", len(filtered), "threshold", threshold)

	return &Response{Results: filtered, Category: cls.Category, Confidence: cls.Confidence}, nil
}

func filterFrames(frames []store.Frame, locationFilter string, tr *temporal.TimeRange) []store.Frame {
	candidates := frames
	if locationFilter != "" && locationFilter != "Select Location" {
		kept := candidates[:0:0]
		for _, f := range candidates {
			if f.Location == locationFilter {
				kept = append(kept, f)
			}
		}
		candidates = kept
	}
	if tr != nil {
		kept := candidates[:0:0]
		for _, f := range candidates {
			if f.Timestamp >= tr.Start && f.Timestamp <= tr.End {
				kept = append(kept, f)
			}
		}
		candidates = kept
	}
	return candidates
}

func thresholdFor(category Category) float64 {
	if t, ok := thresholds[category]; ok {
		return t
	}
	return generalThreshold
}

// applyBestMatchFloor clears all results for an object-only query whose
// best surviving match is still below the floor: a weak best match means
// no confident object match at all.
func applyBestMatchFloor(results []Result, category Category) []Result {
	if category == CategoryObjectOnly && len(results) > 0 && results[0].Similarity < objectOnlyFloor {
		return []Result{}
	}
	return results
}
