package model

import (
	"math"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ImpactConfig holds the Almgren-Chriss model parameters.
type ImpactConfig struct {
	// Eta scales the temporary (reverting) impact term.
	Eta float64
	// Gamma scales the permanent (lasting) impact term.
	Gamma float64
	// RiskAversion scales both terms for more cautious estimates.
	RiskAversion float64
	// Exponent is the power-law applied to relative order size in the
	// temporary term, in (0, 1].
	Exponent float64
	// ReferenceVolumeUSD approximates average daily volume for the
	// instrument, the denominator of relative order size.
	ReferenceVolumeUSD float64
	// ImbalanceSensitivity bounds the multiplicative adjustment applied when
	// the order direction faces thinner liquidity.
	ImbalanceSensitivity float64
}

// ImpactModel estimates Almgren-Chriss temporary and permanent market impact.
// It is stateless and safe for concurrent use.
type ImpactModel struct {
	cfg ImpactConfig
}

// NewImpactModel creates an impact model, filling unset parameters with
// conventional defaults.
func NewImpactModel(cfg ImpactConfig) *ImpactModel {
	if cfg.Eta <= 0 {
		cfg.Eta = 0.1
	}
	if cfg.Gamma <= 0 {
		cfg.Gamma = 0.05
	}
	if cfg.RiskAversion <= 0 {
		cfg.RiskAversion = 1
	}
	if cfg.Exponent <= 0 || cfg.Exponent > 1 {
		cfg.Exponent = 0.5
	}
	if cfg.ReferenceVolumeUSD <= 0 {
		cfg.ReferenceVolumeUSD = 50_000_000
	}
	if cfg.ImbalanceSensitivity <= 0 || cfg.ImbalanceSensitivity > 1 {
		cfg.ImbalanceSensitivity = 0.2
	}
	return &ImpactModel{cfg: cfg}
}

// Estimate computes temporary, permanent, and total impact in bps for an
// order of quantityUSD. Impact rises when the order direction faces the
// thinner side of the book (imbalance against the order), falls otherwise,
// through a bounded multiplicative factor. Total is always non-negative.
func (m *ImpactModel) Estimate(quantityUSD, volatility, imbalance float64, side domain.Side) domain.ImpactEstimate {
	var est domain.ImpactEstimate
	if quantityUSD <= 0 {
		return est
	}
	if volatility < 0 {
		volatility = 0
	}

	rel := quantityUSD / m.cfg.ReferenceVolumeUSD
	temporary := m.cfg.Eta * volatility * math.Pow(rel, m.cfg.Exponent) * 10000
	permanent := m.cfg.Gamma * volatility * rel * 10000

	temporary *= m.cfg.RiskAversion
	permanent *= m.cfg.RiskAversion

	// A buy faces thin liquidity when asks are the light side (imbalance > 0),
	// a sell when bids are (imbalance < 0).
	adverse := imbalance
	if side == domain.SideSell {
		adverse = -imbalance
	}
	factor := 1 + m.cfg.ImbalanceSensitivity*clamp(adverse, -1, 1)
	temporary *= factor
	permanent *= factor

	if temporary < 0 {
		temporary = 0
	}
	if permanent < 0 {
		permanent = 0
	}

	est.TemporaryBps = temporary
	est.PermanentBps = permanent
	est.TotalBps = temporary + permanent
	est.OptimalHorizonHours = m.OptimalHorizon(quantityUSD, volatility)
	return est
}

// OptimalHorizon estimates the execution horizon in hours that balances
// impact cost against timing risk for the given order size.
func (m *ImpactModel) OptimalHorizon(quantityUSD, volatility float64) float64 {
	if quantityUSD <= 0 || volatility <= 0 {
		return 0
	}
	rel := quantityUSD / m.cfg.ReferenceVolumeUSD
	t := math.Sqrt(m.cfg.RiskAversion * volatility * volatility * rel / (2 * m.cfg.Eta))
	return t * 24
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
