// Package classify decides whether a listing title is a sale of sealed product
// (box or case) or of an individual card pulled from one.
package classify

import (
	"log/slog"

	"boxtracker/internal/textnorm"
)

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	model  Model
	vec    *Vectorizer
	logger *slog.Logger
}

// New wraps a model. A nil model or vectorizer puts the classifier in fallback mode.
func New(model Model, vec *Vectorizer, logger *slog.Logger) *Classifier {
	c := &Classifier{logger: logger.With("component", "classifier")}
	if model != nil && vec != nil {
		c.model = model
		c.vec = vec
	}
	return c
}

// Load reads the model at path. Any load failure is logged once and the
// returned classifier uses the rule-based fallback for its whole lifetime.
func Load(path string, logger *slog.Logger) *Classifier {
	model, vec, err := LoadModel(path)
	if err != nil {
		logger.Warn("classifier model unavailable, using rule-based fallback",
			"component", "classifier",
			"path", path,
			"error", err,
		)
		return New(nil, nil, logger)
	}

	c := New(model, vec, logger)
	c.logger.Info("classifier model loaded",
		"path", path,
		"vocabulary", vec.Size(),
	)
	return c
}

func (c *Classifier) ModelLoaded() bool {
	return c.model != nil
}

func (c *Classifier) IsBoxSale(title string) bool {
	normalized := textnorm.Title(title)
	if c.model == nil {
		return IsBoxSaleFallback(normalized)
	}
	return c.model.Score(c.features(normalized, title)) == LabelBox
}

func (c *Classifier) features(normalized, raw string) []float64 {
	out := c.vec.Transform(normalized)
	return append(out, ExplicitFeatures(normalized, raw)...)
}
