// Package churn implements the churn classifier. The rest of the system
// treats it as a black box with Fit/PredictProba semantics; the concrete
// model is a standardized logistic regression trained by gradient descent,
// which keeps the artifact a small portable JSON document.
package churn

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Model is a trained classifier artifact. Immutable once published: Fit
// returns a fresh instance and callers swap the pointer atomically.
type Model struct {
	Version   string    `json:"version"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Means     []float64 `json:"means"`
	Stddevs   []float64 `json:"stddevs"`
	TrainedAt time.Time `json:"trained_at"`
}

// TrainConfig tunes gradient descent.
type TrainConfig struct {
	Epochs       int
	LearningRate float64
}

// Fit trains a logistic regression on the samples. Labels are 1 for churned
// (inactive) students and 0 otherwise. Features are standardized with the
// training set's mean and standard deviation, stored on the model so scoring
// applies the same transform.
func Fit(samples [][]float64, labels []float64, cfg TrainConfig) (*Model, error) {
	if len(samples) == 0 {
		return nil, errors.New("no training samples")
	}
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("sample/label count mismatch: %d vs %d", len(samples), len(labels))
	}
	dims := len(samples[0])
	if dims == 0 {
		return nil, errors.New("empty feature vectors")
	}
	for i, s := range samples {
		if len(s) != dims {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(s), dims)
		}
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 500
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}

	means, stddevs := standardization(samples, dims)
	scaled := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, dims)
		for j, v := range s {
			row[j] = (v - means[j]) / stddevs[j]
		}
		scaled[i] = row
	}

	weights := make([]float64, dims)
	bias := 0.0
	n := float64(len(scaled))

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		gradW := make([]float64, dims)
		gradB := 0.0
		for i, row := range scaled {
			pred := sigmoid(dot(weights, row) + bias)
			diff := pred - labels[i]
			for j, v := range row {
				gradW[j] += diff * v
			}
			gradB += diff
		}
		for j := range weights {
			weights[j] -= cfg.LearningRate * gradW[j] / n
		}
		bias -= cfg.LearningRate * gradB / n
	}

	now := time.Now().UTC()
	return &Model{
		Version:   fmt.Sprintf("logreg_%s", now.Format("20060102_150405")),
		Weights:   weights,
		Bias:      bias,
		Means:     means,
		Stddevs:   stddevs,
		TrainedAt: now,
	}, nil
}

// PredictProba returns the churn probability for one feature vector.
func (m *Model) PredictProba(features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("feature count mismatch: got %d, model has %d", len(features), len(m.Weights))
	}
	z := m.Bias
	for j, v := range features {
		z += m.Weights[j] * (v - m.Means[j]) / m.Stddevs[j]
	}
	return sigmoid(z), nil
}

// Accuracy evaluates the 0.5-threshold classification accuracy on a set.
func (m *Model) Accuracy(samples [][]float64, labels []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for i, s := range samples {
		p, err := m.PredictProba(s)
		if err != nil {
			continue
		}
		predicted := 0.0
		if p >= 0.5 {
			predicted = 1.0
		}
		if predicted == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// Marshal serializes the artifact to JSON.
func (m *Model) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal restores an artifact persisted by Marshal.
func Unmarshal(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if len(m.Weights) == 0 || len(m.Weights) != len(m.Means) || len(m.Weights) != len(m.Stddevs) {
		return nil, errors.New("model artifact has inconsistent dimensions")
	}
	return &m, nil
}

func standardization(samples [][]float64, dims int) (means, stddevs []float64) {
	means = make([]float64, dims)
	stddevs = make([]float64, dims)
	n := float64(len(samples))
	for _, s := range samples {
		for j, v := range s {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}
	for _, s := range samples {
		for j, v := range s {
			d := v - means[j]
			stddevs[j] += d * d
		}
	}
	for j := range stddevs {
		stddevs[j] = math.Sqrt(stddevs[j] / n)
		if stddevs[j] == 0 {
			// Constant feature; avoid dividing by zero.
			stddevs[j] = 1
		}
	}
	return means, stddevs
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
