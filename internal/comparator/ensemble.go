package comparator

import (
	"context"
	"errors"
	"fmt"
)

// DefaultModels is the ensemble used when none is configured.
var DefaultModels = []string{"VGG-Face", "Facenet", "OpenFace"}

// ModelScore is one ensemble member's contribution.
type ModelScore struct {
	Model      string
	Similarity float64
	Distance   float64
	Threshold  float64
	Verified   bool
}

// EnsembleResult aggregates every model's score.
type EnsembleResult struct {
	Scores []ModelScore
	// Similarity is the mean of the per-model similarities.
	Similarity float64
}

// ByModel returns model -> similarity.
func (r EnsembleResult) ByModel() map[string]float64 {
	out := make(map[string]float64, len(r.Scores))
	for _, s := range r.Scores {
		out[s.Model] = s.Similarity
	}
	return out
}

// Ensemble runs one comparison per model, sequentially, and averages.
type Ensemble struct {
	c      Comparator
	models []string
	base   Options
}

// NewEnsemble builds an ensemble over c. An empty models list uses
// DefaultModels. base supplies detector/metric settings; its Model is
// overwritten per member.
func NewEnsemble(c Comparator, models []string, base Options) *Ensemble {
	if len(models) == 0 {
		models = DefaultModels
	}
	ms := make([]string, len(models))
	copy(ms, models)
	return &Ensemble{c: c, models: ms, base: base}
}

func (e *Ensemble) Models() []string {
	out := make([]string, len(e.models))
	copy(out, e.models)
	return out
}

// Compare fails as a whole if any member fails.
func (e *Ensemble) Compare(ctx context.Context, a, b []byte) (EnsembleResult, error) {
	if e.c == nil {
		return EnsembleResult{}, errors.New("ensemble has no comparator")
	}
	res := EnsembleResult{Scores: make([]ModelScore, 0, len(e.models))}
	var sum float64
	for _, m := range e.models {
		if err := ctx.Err(); err != nil {
			return EnsembleResult{}, err
		}
		opts := e.base
		opts.Model = m
		r, err := e.c.Compare(ctx, a, b, opts)
		if err != nil {
			return EnsembleResult{}, fmt.Errorf("model %s: %w", m, err)
		}
		sim := r.Similarity()
		sum += sim
		res.Scores = append(res.Scores, ModelScore{
			Model:      m,
			Similarity: sim,
			Distance:   r.Distance,
			Threshold:  r.Threshold,
			Verified:   r.Verified,
		})
	}
	res.Similarity = sum / float64(len(res.Scores))
	return res, nil
}
