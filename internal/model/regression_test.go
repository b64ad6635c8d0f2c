package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func randomFeatures(rng *rand.Rand) domain.FeatureVector {
	return domain.FeatureVector{
		QuantityUSD:  50 + 1000*rng.Float64(),
		RelativeSize: rng.Float64(),
		SpreadBps:    1 + 20*rng.Float64(),
		Volatility:   0.01 + 0.1*rng.Float64(),
		Imbalance:    2*rng.Float64() - 1,
	}
}

// planted is the linear target the fit should recover exactly.
func planted(f domain.FeatureVector) float64 {
	return 10 + 0.02*f.QuantityUSD + 5*f.RelativeSize + 0.5*f.SpreadBps +
		40*f.Volatility + 3*f.Imbalance
}

func linearObservations(n int, seed int64) []domain.Observation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]domain.Observation, n)
	for i := range obs {
		f := randomFeatures(rng)
		obs[i] = domain.Observation{Features: f, Actual: planted(f)}
	}
	return obs
}

func TestFitScaler(t *testing.T) {
	obs := []domain.Observation{
		{Features: domain.FeatureVector{QuantityUSD: 100, SpreadBps: 2}},
		{Features: domain.FeatureVector{QuantityUSD: 300, SpreadBps: 2}},
	}
	sc := fitScaler(obs)

	assert.InDelta(t, 200.0, sc.mean[0], 1e-12)
	assert.InDelta(t, 100.0, sc.std[0], 1e-12)

	// Zero-variance columns fall back to unit scale instead of dividing by 0.
	assert.InDelta(t, 2.0, sc.mean[2], 1e-12)
	assert.InDelta(t, 1.0, sc.std[2], 1e-12)

	row := sc.apply(obs[0].Features)
	assert.Equal(t, 1.0, row[0])
	assert.InDelta(t, -1.0, row[1], 1e-12)
	assert.InDelta(t, 0.0, row[3], 1e-12)
}

func TestFitOLSRecoversLinearRelation(t *testing.T) {
	obs := linearObservations(80, 1)
	sc := fitScaler(obs)

	coeffs, mse, status := fitOLS(obs, sc)
	require.Equal(t, TrainOK, status)
	require.Len(t, coeffs, numCoeffs)
	assert.InDelta(t, 0.0, mse, 1e-12)

	// An out-of-sample point is predicted exactly.
	rng := rand.New(rand.NewSource(99))
	f := randomFeatures(rng)
	pred := dot(coeffs, sc.apply(f))
	assert.InDelta(t, planted(f), pred, 1e-6)
}

func TestFitOLSInsufficientData(t *testing.T) {
	obs := linearObservations(numCoeffs-1, 2)
	_, _, status := fitOLS(obs, fitScaler(obs))
	assert.Equal(t, TrainInsufficientData, status)
}

func TestFitOLSDegenerateDesign(t *testing.T) {
	// Identical rows have zero variance in every column, leaving a
	// rank-deficient design matrix.
	f := domain.FeatureVector{QuantityUSD: 100, SpreadBps: 5, Volatility: 0.02}
	obs := make([]domain.Observation, 20)
	for i := range obs {
		obs[i] = domain.Observation{Features: f, Actual: 10}
	}
	_, _, status := fitOLS(obs, fitScaler(obs))
	assert.NotEqual(t, TrainOK, status)
}

func TestFitQuantileSitsAboveOLS(t *testing.T) {
	// Add one-sided positive noise so the 0.9 quantile fit is clearly above
	// the mean fit.
	rng := rand.New(rand.NewSource(3))
	obs := make([]domain.Observation, 120)
	for i := range obs {
		f := randomFeatures(rng)
		obs[i] = domain.Observation{Features: f, Actual: planted(f) + 20*rng.Float64()}
	}
	sc := fitScaler(obs)

	coeffs, _, status := fitOLS(obs, sc)
	require.Equal(t, TrainOK, status)
	qc, qstatus := fitQuantile(obs, sc, 0.9, coeffs)
	require.Equal(t, TrainOK, qstatus)

	var meanOLS, meanQ float64
	for _, o := range obs {
		row := sc.apply(o.Features)
		meanOLS += dot(coeffs, row)
		meanQ += dot(qc, row)
	}
	assert.Greater(t, meanQ, meanOLS)
}

func TestFitQuantileInsufficientData(t *testing.T) {
	obs := linearObservations(3, 4)
	_, status := fitQuantile(obs, fitScaler(obs), 0.9, nil)
	assert.Equal(t, TrainInsufficientData, status)
}

func TestFitLogisticSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	obs := make([]domain.Observation, 100)
	for i := range obs {
		f := randomFeatures(rng)
		label := 0.0
		if f.SpreadBps < 10 {
			label = 1
		}
		obs[i] = domain.Observation{Features: f, Actual: label}
	}
	sc := fitScaler(obs)

	coeffs, acc, status := fitLogistic(obs, sc)
	require.Equal(t, TrainOK, status)
	assert.Greater(t, acc, 0.7)

	tight := domain.FeatureVector{QuantityUSD: 100, SpreadBps: 2, Volatility: 0.02}
	wide := tight
	wide.SpreadBps = 19
	assert.Greater(t,
		sigmoid(dot(coeffs, sc.apply(tight))),
		sigmoid(dot(coeffs, sc.apply(wide))),
	)
}

func TestFitLogisticSingleClass(t *testing.T) {
	obs := linearObservations(30, 6)
	for i := range obs {
		obs[i].Actual = 1
	}
	_, _, status := fitLogistic(obs, fitScaler(obs))
	assert.Equal(t, TrainDegenerate, status)
}

func TestHistoryRingBuffer(t *testing.T) {
	h := newHistory(3)
	assert.Zero(t, h.Len())

	for i := 1; i <= 2; i++ {
		h.Push(domain.Observation{Actual: float64(i)})
	}
	all := h.All()
	require.Len(t, all, 2)
	assert.Equal(t, 1.0, all[0].Actual)
	assert.Equal(t, 2.0, all[1].Actual)

	// Overflow evicts the oldest first, insertion order is preserved.
	for i := 3; i <= 5; i++ {
		h.Push(domain.Observation{Actual: float64(i)})
	}
	all = h.All()
	require.Len(t, all, 3)
	assert.Equal(t, 3.0, all[0].Actual)
	assert.Equal(t, 5.0, all[2].Actual)
}
