// Package feed bridges the exchange market-data stream and the strategy
// engine.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/platform/edgex"
)

// BookHandler receives each orderbook snapshot from the stream.
type BookHandler func(domain.OrderbookSnapshot)

// TradeHandler receives each trade print from the stream.
type TradeHandler func(domain.TradePrint)

// MarketFeed subscribes to depth and trade channels for one contract and
// forwards every message to the registered handlers. Reconnection is handled
// inside the WebSocket client; the feed only terminates when the client
// gives up or the context is cancelled.
type MarketFeed struct {
	wsURL          string
	ticker         string
	reconnectDelay time.Duration
	maxReconnects  int

	onBook  BookHandler
	onTrade TradeHandler
	logger  *slog.Logger
}

// NewMarketFeed creates a feed for the given stream URL and contract ticker.
func NewMarketFeed(
	wsURL, ticker string,
	reconnectDelay time.Duration,
	maxReconnects int,
	onBook BookHandler,
	onTrade TradeHandler,
	logger *slog.Logger,
) *MarketFeed {
	return &MarketFeed{
		wsURL:          wsURL,
		ticker:         ticker,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		onBook:         onBook,
		onTrade:        onTrade,
		logger:         logger.With(slog.String("component", "market_feed")),
	}
}

// Run connects, subscribes, and blocks until the context is cancelled or the
// WebSocket client terminates.
func (f *MarketFeed) Run(ctx context.Context) error {
	client := edgex.NewWSClient(f.wsURL, f.reconnectDelay, f.maxReconnects)
	defer client.Close()

	client.OnDepth(func(snap domain.OrderbookSnapshot) {
		if f.onBook != nil {
			f.onBook(snap)
		}
	})
	client.OnTrade(func(tp domain.TradePrint) {
		if f.onTrade != nil {
			f.onTrade(tp)
		}
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := client.Subscribe(ctx, []string{"depth", "trades"}, f.ticker); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed",
		slog.String("ticker", f.ticker),
		slog.String("url", f.wsURL),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		if err := client.Err(); err != nil {
			return err
		}
		return nil
	}
}
