package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// riskState enforces the shared pre-trade limits: order rate, daily loss,
// and position caps. Not safe for concurrent use; each strategy owns one and
// the engine serializes all event handling.
type riskState struct {
	maxDailyLoss  decimal.Decimal
	maxPerMinute  int
	maxPosition   decimal.Decimal

	orderTimes  []time.Time
	ordersToday int
	dailyPnL    decimal.Decimal
	day         time.Time
}

func newRiskState(cfg Config) *riskState {
	return &riskState{
		maxDailyLoss: cfg.MaxDailyLoss,
		maxPerMinute: cfg.MaxOrdersPerMinute,
		maxPosition:  cfg.MaxPosition,
	}
}

// allowOrder reports whether a new order may be placed at now. It rolls the
// daily counters at UTC midnight and trims the per-minute window.
func (r *riskState) allowOrder(now time.Time) bool {
	r.roll(now)

	if r.maxDailyLoss.Sign() > 0 && r.dailyPnL.Neg().GreaterThanOrEqual(r.maxDailyLoss) {
		return false
	}

	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.orderTimes) && r.orderTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.orderTimes = r.orderTimes[i:]
	}
	return r.maxPerMinute <= 0 || len(r.orderTimes) < r.maxPerMinute
}

// allowPosition reports whether the projected inventory after a fill of
// signed delta stays within the cap.
func (r *riskState) allowPosition(current, delta decimal.Decimal) bool {
	if r.maxPosition.Sign() <= 0 {
		return true
	}
	return current.Add(delta).Abs().LessThanOrEqual(r.maxPosition)
}

// recordOrder counts an emitted order against the rate limit.
func (r *riskState) recordOrder(now time.Time) {
	r.roll(now)
	r.orderTimes = append(r.orderTimes, now)
	r.ordersToday++
}

// recordPnL folds a realized PnL delta into the daily total.
func (r *riskState) recordPnL(pnl decimal.Decimal, now time.Time) {
	r.roll(now)
	r.dailyPnL = r.dailyPnL.Add(pnl)
}

func (r *riskState) roll(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.day) {
		r.day = day
		r.ordersToday = 0
		r.dailyPnL = decimal.Zero
		r.orderTimes = r.orderTimes[:0]
	}
}
