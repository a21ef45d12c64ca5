package edgex

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// WSCommand is the subscription envelope sent to the exchange WebSocket.
type WSCommand struct {
	Type    string `json:"type"`    // "subscribe" or "unsubscribe"
	Channel string `json:"channel"` // "depth" or "trades"
	Ticker  string `json:"ticker"`
}

// DepthMessage is a full orderbook snapshot pushed on the "depth" channel.
// Levels are [price, size] string pairs, bids descending and asks ascending.
type DepthMessage struct {
	Channel   string      `json:"channel"`
	Ticker    string      `json:"ticker"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	Timestamp int64       `json:"timestamp"` // epoch millis
}

// TradeMessage is a single executed trade pushed on the "trades" channel.
type TradeMessage struct {
	Channel   string `json:"channel"`
	Ticker    string `json:"ticker"`
	TradeID   string `json:"trade_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"` // "buy" or "sell" (taker side)
	Timestamp int64  `json:"timestamp"`
}

// orderRequest is the REST payload for placing a limit order.
type orderRequest struct {
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	ClientOrderID string `json:"client_order_id"`
}

// orderResponse is the REST response for order placement.
type orderResponse struct {
	Code        int    `json:"code"` // 0 on success
	OrderID     string `json:"order_id"`
	Message     string `json:"msg"`
	FilledPrice string `json:"filled_price"`
	Fee         string `json:"fee"`
}

// DepthToSnapshot converts a depth message into a domain snapshot. Levels
// that fail to parse are dropped.
func DepthToSnapshot(msg *DepthMessage) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Bids:      parseLevels(msg.Bids, domain.SideBid),
		Asks:      parseLevels(msg.Asks, domain.SideAsk),
		Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	return snap
}

// TradeToPrint converts a trade message into a domain trade print.
func TradeToPrint(msg *TradeMessage) (domain.TradePrint, error) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return domain.TradePrint{}, err
	}
	size, err := decimal.NewFromString(msg.Size)
	if err != nil {
		return domain.TradePrint{}, err
	}
	side := domain.OrderSideBuy
	if msg.Side == "sell" {
		side = domain.OrderSideSell
	}
	return domain.TradePrint{
		ID:        msg.TradeID,
		Price:     price,
		Size:      size,
		Side:      side,
		Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
	}, nil
}

func parseLevels(raw [][2]string, side domain.Side) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil || size.Sign() <= 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size, Side: side})
	}
	return levels
}
