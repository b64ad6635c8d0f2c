package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// FeeTier holds maker and taker rates in basis points.
type FeeTier struct {
	MakerBps float64
	TakerBps float64
}

// FeeSchedule is a static tier table keyed by tier identifier. Unknown tiers
// are a configuration error, never silently defaulted.
type FeeSchedule struct {
	tiers map[string]FeeTier
}

// DefaultTiers returns the OKX VIP schedule used when no table is configured.
func DefaultTiers() map[string]FeeTier {
	return map[string]FeeTier{
		"VIP0": {MakerBps: 8, TakerBps: 10},
		"VIP1": {MakerBps: 7, TakerBps: 9},
		"VIP2": {MakerBps: 6, TakerBps: 8},
		"VIP3": {MakerBps: 5, TakerBps: 7},
		"VIP4": {MakerBps: 3, TakerBps: 5},
		"VIP5": {MakerBps: 0, TakerBps: 3},
	}
}

// NewFeeSchedule creates a schedule from the given tier table, or the default
// table when nil/empty.
func NewFeeSchedule(tiers map[string]FeeTier) *FeeSchedule {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	copied := make(map[string]FeeTier, len(tiers))
	for k, v := range tiers {
		copied[k] = v
	}
	return &FeeSchedule{tiers: copied}
}

// Tiers returns the known tier identifiers, sorted.
func (s *FeeSchedule) Tiers() []string {
	out := make([]string, 0, len(s.tiers))
	for k := range s.tiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a tier exists, for fail-fast config validation.
func (s *FeeSchedule) Has(tier string) bool {
	_, ok := s.tiers[tier]
	return ok
}

// Compute blends the tier's maker and taker rates by the predicted fill
// split and derives fee amounts for the order notional. makerPct and
// takerPct must sum to 1.
func (s *FeeSchedule) Compute(quantityUSD float64, tier string, makerPct, takerPct float64) (domain.FeeEstimate, error) {
	rates, ok := s.tiers[tier]
	if !ok {
		return domain.FeeEstimate{}, fmt.Errorf("fees: tier %q: %w", tier, domain.ErrUnknownFeeTier)
	}
	if makerPct < 0 || takerPct < 0 || math.Abs(makerPct+takerPct-1) > 1e-9 {
		return domain.FeeEstimate{}, fmt.Errorf("fees: maker %.6f + taker %.6f != 1: %w",
			makerPct, takerPct, domain.ErrInvalidParams)
	}

	est := domain.FeeEstimate{
		MakerRateBps:     rates.MakerBps,
		TakerRateBps:     rates.TakerBps,
		EffectiveRateBps: makerPct*rates.MakerBps + takerPct*rates.TakerBps,
	}
	est.MakerFeeUSD = quantityUSD * rates.MakerBps / 10000 * makerPct
	est.TakerFeeUSD = quantityUSD * rates.TakerBps / 10000 * takerPct
	est.TotalFeeUSD = est.MakerFeeUSD + est.TakerFeeUSD
	return est, nil
}
