package scores

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrEmptyInput    = errors.New("empty score vector")
	ErrLabelMismatch = errors.New("label count does not match score count")
)

// Separator joins label:probability pairs in Result.Display.
const Separator = "  ,  "

type Prediction struct {
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// Result is the decoded output of one classification.
type Result struct {
	Label       string       `json:"label"`
	Confidence  float32      `json:"confidence"`
	Predictions []Prediction `json:"predictions"`
	Display     string       `json:"display"`
}

// Softmax maps raw scores to probabilities. The maximum is subtracted
// before exponentiation so large scores cannot overflow.
func Softmax(scores []float32) ([]float32, error) {
	if len(scores) == 0 {
		return nil, ErrEmptyInput
	}

	m := scores[0]
	for _, s := range scores[1:] {
		if s > m {
			m = s
		}
	}

	exps := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		exps[i] = math.Exp(float64(s - m))
		sum += exps[i]
	}

	probs := make([]float32, len(scores))
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs, nil
}

// Decode applies Softmax and pairs each probability with the label at the
// same index.
func Decode(scores []float32, labels []string) (*Result, error) {
	probs, err := Softmax(scores)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("%w: %d labels, %d scores", ErrLabelMismatch, len(labels), len(probs))
	}

	res := &Result{Predictions: make([]Prediction, len(probs))}
	maxIdx := 0
	for i, p := range probs {
		res.Predictions[i] = Prediction{Label: labels[i], Probability: p}
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}
	res.Label = labels[maxIdx]
	res.Confidence = probs[maxIdx]
	res.Display = Format(res.Predictions)
	return res, nil
}

// Format renders predictions as "label:0.00" pairs, e.g.
// "ok:0.12  ,  thumbup:0.88".
func Format(preds []Prediction) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = fmt.Sprintf("%s:%.2f", p.Label, p.Probability)
	}
	return strings.Join(parts, Separator)
}

func (r *Result) String() string {
	return r.Display
}
