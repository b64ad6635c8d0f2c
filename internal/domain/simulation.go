package domain

import (
	"fmt"
	"time"
)

// SimulationParams describe the hypothetical order being costed. They are
// immutable for the duration of one aggregation tick; the presentation layer
// swaps in a new value which takes effect on the next tick.
type SimulationParams struct {
	Exchange    string  `json:"exchange"`
	Asset       string  `json:"asset"`
	OrderType   string  `json:"order_type"`
	QuantityUSD float64 `json:"quantity_usd"`
	Volatility  float64 `json:"volatility"`
	FeeTier     string  `json:"fee_tier"`
	Side        Side    `json:"side"`
}

// CacheKey returns a stable key identifying the parameter set, combined with
// the book sequence number for result caching.
func (p SimulationParams) CacheKey(sequence uint64) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%.6f|%.6f|%d",
		p.Exchange, p.Asset, p.OrderType, p.FeeTier, p.Side,
		p.QuantityUSD, p.Volatility, sequence)
}

// SlippageEstimate is the slippage component of a cost result.
type SlippageEstimate struct {
	ExpectedBps     float64 `json:"expected_bps"`
	ConservativeBps float64 `json:"conservative_bps"`

	// SimulatedBps is the direct book-walk estimate; meaningful only when
	// Simulated is true (the walk requires a valid, non-empty book).
	SimulatedBps float64 `json:"simulated_bps"`
	Simulated    bool    `json:"simulated"`

	FilledRatio float64 `json:"filled_ratio"`
	Trained     bool    `json:"trained"`
	Samples     int     `json:"samples"`
}

// ImpactEstimate is the Almgren-Chriss market impact component.
type ImpactEstimate struct {
	TemporaryBps        float64 `json:"temporary_bps"`
	PermanentBps        float64 `json:"permanent_bps"`
	TotalBps            float64 `json:"total_bps"`
	OptimalHorizonHours float64 `json:"optimal_horizon_hours"`
}

// FeeEstimate is the fee component, blended across the predicted maker/taker
// split. USD amounts are for the order notional.
type FeeEstimate struct {
	EffectiveRateBps float64 `json:"effective_rate_bps"`
	MakerRateBps     float64 `json:"maker_rate_bps"`
	TakerRateBps     float64 `json:"taker_rate_bps"`
	MakerFeeUSD      float64 `json:"maker_fee_usd"`
	TakerFeeUSD      float64 `json:"taker_fee_usd"`
	TotalFeeUSD      float64 `json:"total_fee_usd"`
}

// MakerTakerEstimate is the predicted fill split. MakerPct+TakerPct is always 1.
type MakerTakerEstimate struct {
	MakerPct float64 `json:"maker_pct"`
	TakerPct float64 `json:"taker_pct"`
	Trained  bool    `json:"trained"`
}

// CostResult is the aggregated output of one simulation tick. It is built
// fresh per tick and never mutated afterwards.
type CostResult struct {
	ID     string           `json:"id"`
	Params SimulationParams `json:"params"`

	Slippage   SlippageEstimate   `json:"slippage"`
	Impact     ImpactEstimate     `json:"market_impact"`
	Fees       FeeEstimate        `json:"fees"`
	MakerTaker MakerTakerEstimate `json:"maker_taker"`

	// NetCostBps = Slippage.ExpectedBps + Fees.EffectiveRateBps + Impact.TotalBps.
	NetCostBps float64 `json:"net_cost_bps"`

	// Unavailable lists estimator names ("slippage", "impact", "fees",
	// "maker_taker") whose computation failed this tick; their fields are
	// zero-valued and excluded from NetCostBps only when listed here.
	Unavailable []string `json:"unavailable,omitempty"`

	InternalLatencyMs float64     `json:"internal_latency_ms"`
	Book              BookMetrics `json:"source_metrics"`
	Timestamp         time.Time   `json:"timestamp"`
}
