package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyStatus is a point-in-time summary of a running strategy, published
// for external monitoring.
type StrategyStatus struct {
	Strategy         string
	Running          bool
	Position         decimal.Decimal
	AvgEntryPrice    decimal.Decimal
	ActiveBidPrice   decimal.Decimal
	ActiveAskPrice   decimal.Decimal
	ActiveOrders     int
	SignalsGenerated int
	OrdersToday      int
	DailyPnL         decimal.Decimal
	UpdatedAt        time.Time
}
