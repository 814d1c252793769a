// Package metrics exposes platform-wide prometheus instrumentation. Values
// here are observability only; accounting truth lives in the fee engine's
// metric store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and owns the engine's prometheus metrics. A nil
// *Collector is valid and records nothing, so wiring it is optional.
type Collector struct {
	tradesTotal     *prometheus.CounterVec
	tradeVolume     prometheus.Counter
	feesCollected   prometheus.Counter
	tokensBurned    prometheus.Counter
	rewardsPaid     prometheus.Counter
	graduations     prometheus.Counter
	poolLiquidity   *prometheus.GaugeVec
	contentionTotal prometheus.Counter
}

// NewCollector creates a collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Executed trades by direction and venue.",
		}, []string{"direction", "venue"}),
		tradeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_trade_volume_base_units",
			Help: "Cumulative trading volume in base units.",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_fees_collected_base_units",
			Help: "Cumulative platform fees collected in base units.",
		}),
		tokensBurned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tokens_burned_units",
			Help: "Cumulative platform tokens burned.",
		}),
		rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_creator_rewards_base_units",
			Help: "Cumulative creator rewards distributed in base units.",
		}),
		graduations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_graduations_total",
			Help: "Tokens graduated from the bonding curve to a pool.",
		}),
		poolLiquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_pool_base_reserve",
			Help: "Current base-asset reserve per pool.",
		}, []string{"token_id"}),
		contentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_lock_contention_total",
			Help: "Trade requests rejected with Busy.",
		}),
	}
	reg.MustRegister(
		c.tradesTotal, c.tradeVolume, c.feesCollected, c.tokensBurned,
		c.rewardsPaid, c.graduations, c.poolLiquidity, c.contentionTotal,
	)
	return c
}

// RecordTrade counts one executed trade and its base-side volume.
func (c *Collector) RecordTrade(direction, venue string, baseVolume float64) {
	if c == nil {
		return
	}
	c.tradesTotal.WithLabelValues(direction, venue).Inc()
	c.tradeVolume.Add(baseVolume)
}

// RecordFee counts collected platform fees.
func (c *Collector) RecordFee(amount float64) {
	if c == nil {
		return
	}
	c.feesCollected.Add(amount)
}

// RecordBurn counts burned platform tokens.
func (c *Collector) RecordBurn(tokens float64) {
	if c == nil {
		return
	}
	c.tokensBurned.Add(tokens)
}

// RecordRewards counts distributed creator rewards.
func (c *Collector) RecordRewards(amount float64) {
	if c == nil {
		return
	}
	c.rewardsPaid.Add(amount)
}

// RecordGraduation counts one curve-to-pool transition.
func (c *Collector) RecordGraduation() {
	if c == nil {
		return
	}
	c.graduations.Inc()
}

// SetPoolLiquidity publishes a pool's current base reserve.
func (c *Collector) SetPoolLiquidity(tokenID string, baseReserve float64) {
	if c == nil {
		return
	}
	c.poolLiquidity.WithLabelValues(tokenID).Set(baseReserve)
}

// RecordContention counts a Busy rejection.
func (c *Collector) RecordContention() {
	if c == nil {
		return
	}
	c.contentionTotal.Inc()
}
