// Package scoring converts the model's qualitative scores into the final
// numeric score, verdict, and factor labels. Everything here is pure.
package scoring

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Dimension is one entry of the canonical weight table.
type Dimension struct {
	Key    string
	Name   string
	Weight float64 // percent; the table sums to 100
}

// Dimensions is the canonical weight table.
var Dimensions = []Dimension{
	{Key: "problemClarity", Name: "Problem Clarity", Weight: 15},
	{Key: "solutionStrength", Name: "Solution Strength", Weight: 15},
	{Key: "marketSize", Name: "Market Size", Weight: 15},
	{Key: "competition", Name: "Competition", Weight: 10},
	{Key: "businessModel", Name: "Business Model", Weight: 15},
	{Key: "teamFit", Name: "Team Fit", Weight: 15},
	{Key: "timing", Name: "Timing", Weight: 15},
}

const (
	minDimension = 0.0
	maxDimension = 100.0
	minFactor    = 1.0
	maxFactor    = 10.0

	goThreshold      = 75
	cautionThreshold = 50

	strongThreshold   = 7.0
	moderateThreshold = 4.0
)

// Input is the raw model output the layer operates on.
type Input struct {
	Dimensions       map[string]any
	MarketFactors    []model.RawFactor
	ExecutionFactors []model.RawFactor
}

// Result is the deterministic output.
type Result struct {
	OverallScore     int
	Verdict          model.Verdict
	DimensionScores  map[string]float64
	MarketFactors    []model.Factor
	ExecutionFactors []model.Factor
	ScoresMatrix     model.ScoresMatrix
	Metadata         model.ScoringMetadata
}

// Score computes the final score. bias is added to the weighted sum before
// the final clamp; it is a calibration knob and normally zero.
func Score(in Input, bias float64) Result {
	res := Result{
		DimensionScores: make(map[string]float64, len(Dimensions)),
		ScoresMatrix: model.ScoresMatrix{
			Dimensions: make([]model.MatrixDimension, 0, len(Dimensions)),
		},
		Metadata: model.ScoringMetadata{
			BiasCorrection:    bias,
			ClampedDimensions: map[string]any{},
		},
	}

	var weighted float64
	for _, d := range Dimensions {
		raw := in.Dimensions[d.Key]
		v, clamped := clamp(raw, minDimension, maxDimension)
		if clamped {
			res.Metadata.ClampedDimensions[d.Key] = rawValue(raw)
		}
		res.DimensionScores[d.Key] = v
		weighted += v * d.Weight / 100
		res.ScoresMatrix.Dimensions = append(res.ScoresMatrix.Dimensions, model.MatrixDimension{
			Name:   d.Name,
			Score:  v,
			Weight: d.Weight,
		})
	}

	res.Metadata.RawWeightedAverage = math.Round(weighted*100) / 100

	final := weighted + bias
	if math.IsNaN(final) {
		final = minDimension
	}
	final = math.Max(minDimension, math.Min(maxDimension, final))
	res.OverallScore = int(math.Round(final))
	res.Verdict = VerdictFor(res.OverallScore)
	res.ScoresMatrix.OverallWeighted = res.OverallScore

	res.MarketFactors = scoreFactors(in.MarketFactors)
	res.ExecutionFactors = scoreFactors(in.ExecutionFactors)

	return res
}

// VerdictFor maps a final score to a verdict.
func VerdictFor(score int) model.Verdict {
	switch {
	case score >= goThreshold:
		return model.VerdictGo
	case score >= cautionThreshold:
		return model.VerdictCaution
	default:
		return model.VerdictNoGo
	}
}

// FactorStatusFor labels a clamped factor score.
func FactorStatusFor(score float64) model.FactorStatus {
	switch {
	case score >= strongThreshold:
		return model.FactorStrong
	case score >= moderateThreshold:
		return model.FactorModerate
	default:
		return model.FactorWeak
	}
}

func scoreFactors(raw []model.RawFactor) []model.Factor {
	out := make([]model.Factor, 0, len(raw))
	for _, f := range raw {
		v, _ := clamp(f.Score, minFactor, maxFactor)
		out = append(out, model.Factor{
			Name:        f.Name,
			Score:       v,
			Description: f.Description,
			Status:      FactorStatusFor(v),
		})
	}
	return out
}

// clamp coerces v into [lo, hi]. Non-numeric values become lo. The second
// return value reports whether the value was altered.
func clamp(v any, lo, hi float64) (float64, bool) {
	f, ok := numeric(v)
	if !ok || math.IsNaN(f) {
		return lo, true
	}
	switch {
	case f < lo:
		return lo, true
	case f > hi:
		return hi, true
	default:
		return f, false
	}
}

// rawValue makes v safe to marshal. Non-finite floats become their string
// form.
func rawValue(v any) any {
	if f, ok := numeric(v); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Apply merges a draft and the deterministic result into the stage output.
func Apply(draft model.ScoringDraft, bias float64) model.ScoringResult {
	res := Score(Input{
		Dimensions:       draft.DimensionScores,
		MarketFactors:    draft.MarketFactors,
		ExecutionFactors: draft.ExecutionFactors,
	}, bias)

	return model.ScoringResult{
		OverallScore:     res.OverallScore,
		Verdict:          res.Verdict,
		DimensionScores:  res.DimensionScores,
		MarketFactors:    res.MarketFactors,
		ExecutionFactors: res.ExecutionFactors,
		Highlights:       draft.Highlights,
		RedFlags:         draft.RedFlags,
		RisksAssumptions: draft.RisksAssumptions,
		Rationale:        draft.Rationale,
		ScoresMatrix:     res.ScoresMatrix,
		Metadata:         res.Metadata,
	}
}
