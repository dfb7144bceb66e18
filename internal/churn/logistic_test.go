package churn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two well-separated clusters: low feature values label 0, high label 1.
func separableSet() ([][]float64, []float64) {
	samples := [][]float64{
		{1, 2}, {2, 1}, {1.5, 1.5}, {2, 2}, {1, 1},
		{8, 9}, {9, 8}, {8.5, 8.5}, {9, 9}, {8, 8},
	}
	labels := []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
	return samples, labels
}

func TestFitSeparatesClusters(t *testing.T) {
	samples, labels := separableSet()
	model, err := Fit(samples, labels, TrainConfig{})
	require.NoError(t, err)
	require.Len(t, model.Weights, 2)
	assert.NotEmpty(t, model.Version)

	low, err := model.PredictProba([]float64{1.2, 1.8})
	require.NoError(t, err)
	high, err := model.PredictProba([]float64{8.8, 8.2})
	require.NoError(t, err)
	assert.Less(t, low, 0.5)
	assert.Greater(t, high, 0.5)
	assert.Equal(t, 1.0, model.Accuracy(samples, labels))
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(nil, nil, TrainConfig{})
	require.Error(t, err)

	_, err = Fit([][]float64{{1}}, []float64{0, 1}, TrainConfig{})
	require.Error(t, err)

	_, err = Fit([][]float64{{1, 2}, {1}}, []float64{0, 1}, TrainConfig{})
	require.Error(t, err)
}

func TestFitToleratesConstantFeature(t *testing.T) {
	samples := [][]float64{{1, 5}, {2, 5}, {8, 5}, {9, 5}}
	labels := []float64{0, 0, 1, 1}
	model, err := Fit(samples, labels, TrainConfig{Epochs: 200})
	require.NoError(t, err)

	p, err := model.PredictProba([]float64{1.5, 5})
	require.NoError(t, err)
	assert.Less(t, p, 0.5)
}

func TestPredictProbaDimensionMismatch(t *testing.T) {
	samples, labels := separableSet()
	model, err := Fit(samples, labels, TrainConfig{Epochs: 10})
	require.NoError(t, err)

	_, err = model.PredictProba([]float64{1})
	require.Error(t, err)
}

func TestArtifactRoundtrip(t *testing.T) {
	samples, labels := separableSet()
	model, err := Fit(samples, labels, TrainConfig{})
	require.NoError(t, err)

	data, err := model.Marshal()
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	want, err := model.PredictProba([]float64{8.8, 8.2})
	require.NoError(t, err)
	got, err := restored.PredictProba([]float64{8.8, 8.2})
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
}

func TestUnmarshalRejectsInconsistentArtifact(t *testing.T) {
	_, err := Unmarshal([]byte(`{"weights":[1,2],"means":[0],"stddevs":[1,1]}`))
	require.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	require.Error(t, err)
}
