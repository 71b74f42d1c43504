// Package search implements semantic retrieval over stored frames:
// query classification, expansion, similarity scoring and ranking.
package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/vectormath"
)

// Category is the semantic intent of a query. Free-text security queries
// are ambiguous between "find this object", "find a person doing X" and
// "find who was near this object"; each needs its own threshold and
// phrasing strategy downstream.
type Category string

const (
	CategoryObjectOnly       Category = "objectOnly"
	CategoryPersonWithObject Category = "personWithObject"
	CategoryPersonAction     Category = "personAction"
	CategoryBehavioral       Category = "behavioral"
	CategorySequential       Category = "sequential"
	CategoryGeneral          Category = "general"
)

// Curated anchor phrases per category. A category's score is the best
// similarity between the query and any of its exemplars.
var exemplars = map[Category][]string{
	CategoryObjectOnly: {
		"garbage on the ground",
		"empty food tray on table",
		"abandoned luggage alone",
		"unattended bag by itself",
		"trash pile",
		"suitcase without person",
	},
	CategoryPersonWithObject: {
		"person carrying luggage",
		"person holding bag",
		"person with suitcase",
		"man carrying backpack",
		"woman with handbag",
	},
	CategoryPersonAction: {
		"person walking",
		"person standing",
		"person running",
		"man moving",
		"woman sitting",
	},
	CategoryBehavioral: {
		"person loitering in area",
		"suspicious behavior",
		"person leaving object behind",
		"person waiting for long time",
		"person pacing back and forth",
	},
	CategorySequential: {
		"last person near the object",
		"person who was holding the bag",
		"person before the incident",
		"who left the luggage",
	},
}

// The top category must beat the runner-up by this cosine margin to be
// trusted; otherwise the query is treated as general.
const confidenceMargin = 0.10

// Classification is the outcome of scoring a query against all
// categories.
type Classification struct {
	Category    Category             `json:"category"`
	Confidence  float64              `json:"confidence"`
	AllScores   map[Category]float64 `json:"allScores"`
	IsConfident bool                 `json:"isConfident"`
}

func generalFallback() Classification {
	return Classification{
		Category:  CategoryGeneral,
		AllScores: map[Category]float64{},
	}
}

// Classifier assigns a semantic category to query text. Exemplar
// embeddings are computed once on first use and memoized for the life of
// the classifier.
type Classifier struct {
	provider embed.Provider
	logger   *slog.Logger

	mu     sync.Mutex
	cached map[Category][][]float32
}

func NewClassifier(provider embed.Provider, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, logger: logger}
}

// Classify scores query against every category's exemplars. It never
// fails a search: on any embedding error it logs and falls back to the
// general category.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	queryEmb, err := c.provider.EmbedText(ctx, query)
	if err != nil {
		c.logger.Warn("query classification failed, using general category", "error", err)
		return generalFallback()
	}
	queryEmb = vectormath.Normalize(queryEmb)

	anchors, err := c.exemplarEmbeddings(ctx)
	if err != nil {
		c.logger.Warn("exemplar embedding failed, using general category", "error", err)
		return generalFallback()
	}

	scores := make(map[Category]float64, len(anchors))
	for category, embeddings := range anchors {
		best := -1.0
		for _, emb := range embeddings {
			sim, err := vectormath.CosineSimilarity(queryEmb, emb)
			if err != nil {
				c.logger.Warn("exemplar similarity failed", "category", category, "error", err)
				continue
			}
			if sim > best {
				best = sim
			}
		}
		scores[category] = best
	}

	ranked := make([]Category, 0, len(scores))
	for category := range scores {
		ranked = append(ranked, category)
	}
	sort.Slice(ranked, func(i, j int) bool { return scores[ranked[i]] > scores[ranked[j]] })

	best, runnerUp := ranked[0], ranked[1]
	confident := scores[best]-scores[runnerUp] > confidenceMargin

	category := CategoryGeneral
	if confident {
		category = best
	}

	return Classification{
		Category:    category,
		Confidence:  scores[best],
		AllScores:   scores,
		IsConfident: confident,
	}
}

// exemplarEmbeddings returns the memoized anchor vectors, embedding all
// exemplar phrases on the first call.
func (c *Classifier) exemplarEmbeddings(ctx context.Context) (map[Category][][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return c.cached, nil
	}

	anchors := make(map[Category][][]float32, len(exemplars))
	for category, phrases := range exemplars {
		embeddings := make([][]float32, 0, len(phrases))
		for _, phrase := range phrases {
			emb, err := c.provider.EmbedText(ctx, phrase)
			if err != nil {
				return nil, err
			}
			embeddings = append(embeddings, vectormath.Normalize(emb))
		}
		anchors[category] = embeddings
	}

	c.cached = anchors
	return anchors, nil
}
