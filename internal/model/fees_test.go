package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func TestDefaultTiers(t *testing.T) {
	s := NewFeeSchedule(nil)

	assert.Equal(t, []string{"VIP0", "VIP1", "VIP2", "VIP3", "VIP4", "VIP5"}, s.Tiers())
	assert.True(t, s.Has("VIP0"))
	assert.False(t, s.Has("VIP9"))

	est, err := s.Compute(10_000, "VIP0", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, est.MakerRateBps)
	assert.Equal(t, 10.0, est.TakerRateBps)
}

func TestComputeTakerOnly(t *testing.T) {
	s := NewFeeSchedule(nil)

	est, err := s.Compute(10_000, "VIP0", 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, est.EffectiveRateBps, 1e-9)
	assert.InDelta(t, 10.0, est.TotalFeeUSD, 1e-9)
	assert.Zero(t, est.MakerFeeUSD)
}

func TestComputeBlendedSplit(t *testing.T) {
	s := NewFeeSchedule(nil)

	est, err := s.Compute(10_000, "VIP0", 0.5, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, est.EffectiveRateBps, 1e-9)
	assert.InDelta(t, 4.0, est.MakerFeeUSD, 1e-9)
	assert.InDelta(t, 5.0, est.TakerFeeUSD, 1e-9)
	assert.InDelta(t, 9.0, est.TotalFeeUSD, 1e-9)
}

func TestComputeUnknownTier(t *testing.T) {
	s := NewFeeSchedule(nil)

	_, err := s.Compute(10_000, "VIP99", 0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownFeeTier)
}

func TestComputeInvalidSplit(t *testing.T) {
	s := NewFeeSchedule(nil)

	for _, tc := range []struct{ maker, taker float64 }{
		{0.5, 0.6},
		{-0.1, 1.1},
		{0, 0},
	} {
		_, err := s.Compute(10_000, "VIP0", tc.maker, tc.taker)
		assert.ErrorIs(t, err, domain.ErrInvalidParams, "maker %v taker %v", tc.maker, tc.taker)
	}
}

func TestCustomSchedule(t *testing.T) {
	tiers := map[string]FeeTier{"flat": {MakerBps: 1, TakerBps: 2}}
	s := NewFeeSchedule(tiers)

	assert.Equal(t, []string{"flat"}, s.Tiers())
	assert.False(t, s.Has("VIP0"))

	// The schedule copies its input; later mutation has no effect.
	tiers["flat"] = FeeTier{MakerBps: 100, TakerBps: 100}
	est, err := s.Compute(10_000, "flat", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.MakerRateBps)
}
