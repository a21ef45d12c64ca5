package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// statusTTL bounds how long a stale status survives after the publisher
// stops refreshing it.
const statusTTL = 5 * time.Minute

// StatusCache implements domain.StatusCache using JSON values at
// "status:{strategy}" keys with a short TTL.
type StatusCache struct {
	rdb *redis.Client
}

// NewStatusCache creates a StatusCache backed by the given Client.
func NewStatusCache(c *Client) *StatusCache {
	return &StatusCache{rdb: c.Underlying()}
}

func statusKey(strategy string) string {
	return "status:" + strategy
}

// statusPayload is the JSON wire form of a strategy status. Decimals are
// serialized as strings to avoid precision loss.
type statusPayload struct {
	Strategy         string    `json:"strategy"`
	Running          bool      `json:"running"`
	Position         string    `json:"position"`
	AvgEntryPrice    string    `json:"avg_entry_price"`
	ActiveBidPrice   string    `json:"active_bid_price,omitempty"`
	ActiveAskPrice   string    `json:"active_ask_price,omitempty"`
	ActiveOrders     int       `json:"active_orders"`
	SignalsGenerated int       `json:"signals_generated"`
	OrdersToday      int       `json:"orders_today"`
	DailyPnL         string    `json:"daily_pnl"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SetStatus stores the latest status snapshot for a strategy.
func (sc *StatusCache) SetStatus(ctx context.Context, status domain.StrategyStatus) error {
	payload := statusPayload{
		Strategy:         status.Strategy,
		Running:          status.Running,
		Position:         status.Position.String(),
		AvgEntryPrice:    status.AvgEntryPrice.String(),
		ActiveOrders:     status.ActiveOrders,
		SignalsGenerated: status.SignalsGenerated,
		OrdersToday:      status.OrdersToday,
		DailyPnL:         status.DailyPnL.String(),
		UpdatedAt:        status.UpdatedAt,
	}
	if status.ActiveBidPrice.Sign() > 0 {
		payload.ActiveBidPrice = status.ActiveBidPrice.String()
	}
	if status.ActiveAskPrice.Sign() > 0 {
		payload.ActiveAskPrice = status.ActiveAskPrice.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal status %s: %w", status.Strategy, err)
	}
	if err := sc.rdb.Set(ctx, statusKey(status.Strategy), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set status %s: %w", status.Strategy, err)
	}
	return nil
}

// GetStatus retrieves the latest status snapshot for a strategy. It returns
// domain.ErrNotFound when no status has been published.
func (sc *StatusCache) GetStatus(ctx context.Context, strategy string) (domain.StrategyStatus, error) {
	data, err := sc.rdb.Get(ctx, statusKey(strategy)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.StrategyStatus{}, domain.ErrNotFound
		}
		return domain.StrategyStatus{}, fmt.Errorf("redis: get status %s: %w", strategy, err)
	}

	var payload statusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.StrategyStatus{}, fmt.Errorf("redis: unmarshal status %s: %w", strategy, err)
	}

	status := domain.StrategyStatus{
		Strategy:         payload.Strategy,
		Running:          payload.Running,
		ActiveOrders:     payload.ActiveOrders,
		SignalsGenerated: payload.SignalsGenerated,
		OrdersToday:      payload.OrdersToday,
		UpdatedAt:        payload.UpdatedAt,
	}
	status.Position = parseDecimal(payload.Position)
	status.AvgEntryPrice = parseDecimal(payload.AvgEntryPrice)
	status.ActiveBidPrice = parseDecimal(payload.ActiveBidPrice)
	status.ActiveAskPrice = parseDecimal(payload.ActiveAskPrice)
	status.DailyPnL = parseDecimal(payload.DailyPnL)
	return status, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Compile-time interface check.
var _ domain.StatusCache = (*StatusCache)(nil)
