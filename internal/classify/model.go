package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
)

// Label is a model decision.
type Label int

const (
	LabelOther Label = 0
	LabelBox   Label = 1
)

// Model scores a feature vector. Implementations must be deterministic: equal
// inputs give equal labels. The classifier makes no other assumption about them.
type Model interface {
	Score(features []float64) Label
}

var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// Vectorizer maps a normalized title to TF-IDF weights over a fixed vocabulary,
// l2-normalized.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	SublinearTF bool           `json:"sublinear_tf"`
}

func (v *Vectorizer) Size() int {
	return len(v.IDF)
}

func (v *Vectorizer) Transform(normalized string) []float64 {
	out := make([]float64, len(v.IDF))
	for _, tok := range tokenPattern.FindAllString(normalized, -1) {
		if i, ok := v.Vocabulary[tok]; ok {
			out[i]++
		}
	}

	var norm float64
	for i, tf := range out {
		if tf == 0 {
			continue
		}
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		out[i] = tf * v.IDF[i]
		norm += out[i] * out[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range out {
			out[i] /= norm
		}
	}
	return out
}

// LinearModel labels a vector as box when coef·x + intercept > 0.
type LinearModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *LinearModel) Decision(features []float64) float64 {
	sum := m.Intercept
	for i, x := range features {
		if i >= len(m.Coef) {
			break
		}
		sum += m.Coef[i] * x
	}
	return sum
}

func (m *LinearModel) Score(features []float64) Label {
	if m.Decision(features) > 0 {
		return LabelBox
	}
	return LabelOther
}

// modelFile is the on-disk layout written by the training tooling.
type modelFile struct {
	Vectorizer Vectorizer  `json:"vectorizer"`
	Model      LinearModel `json:"model"`
}

// LoadModel reads a model file and checks that its dimensions agree with the
// vectorizer and the explicit feature set.
func LoadModel(path string) (Model, *Vectorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read model file: %w", err)
	}

	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decode model file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, nil, fmt.Errorf("validate model file: %w", err)
	}

	return &f.Model, &f.Vectorizer, nil
}

func (f *modelFile) validate() error {
	if len(f.Vectorizer.IDF) == 0 {
		return errors.New("empty vocabulary")
	}
	for tok, i := range f.Vectorizer.Vocabulary {
		if i < 0 || i >= len(f.Vectorizer.IDF) {
			return fmt.Errorf("token %q index %d out of range", tok, i)
		}
	}
	if want := f.Vectorizer.Size() + ExplicitFeatureCount; len(f.Model.Coef) != want {
		return fmt.Errorf("coefficient count %d, want %d", len(f.Model.Coef), want)
	}
	return nil
}
