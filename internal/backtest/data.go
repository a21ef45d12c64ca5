// Package backtest replays historical market data through the strategy
// decision logic against an in-memory ledger and computes performance
// statistics for the resulting trade sequence.
package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// Data is a time-ordered historical dataset: orderbook snapshots plus the
// trade prints that occurred between them.
type Data struct {
	Snapshots []domain.OrderbookSnapshot
	Trades    []domain.TradePrint
	StartTime time.Time
	EndTime   time.Time
}

// Len returns the number of snapshots.
func (d *Data) Len() int { return len(d.Snapshots) }

// TradesInRange returns the prints with start <= timestamp <= end.
func (d *Data) TradesInRange(start, end time.Time) []domain.TradePrint {
	var out []domain.TradePrint
	for _, t := range d.Trades {
		if !t.Timestamp.Before(start) && !t.Timestamp.After(end) {
			out = append(out, t)
		}
	}
	return out
}

// jsonBook mirrors the on-disk snapshot layout: levels as [price, size]
// pairs, timestamps as unix seconds with fractional part.
type jsonBook struct {
	Timestamp float64      `json:"timestamp"`
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
}

type jsonTrade struct {
	Timestamp float64 `json:"timestamp"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      string  `json:"side"`
	TradeID   string  `json:"trade_id"`
}

type jsonData struct {
	Orderbooks []jsonBook  `json:"orderbooks"`
	Trades     []jsonTrade `json:"trades"`
}

// LoadJSON reads a historical dataset from r. Best bid/ask are derived from
// the levels rather than trusted from the file.
func LoadJSON(r io.Reader) (*Data, error) {
	var raw jsonData
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("backtest: decode dataset: %w", err)
	}
	if len(raw.Orderbooks) == 0 {
		return nil, fmt.Errorf("backtest: dataset has no orderbook snapshots")
	}

	data := &Data{}
	for _, ob := range raw.Orderbooks {
		snap := domain.OrderbookSnapshot{Timestamp: unixTime(ob.Timestamp)}
		for _, b := range ob.Bids {
			snap.Bids = append(snap.Bids, domain.PriceLevel{
				Price: decimal.NewFromFloat(b[0]),
				Size:  decimal.NewFromFloat(b[1]),
				Side:  domain.SideBid,
			})
		}
		for _, a := range ob.Asks {
			snap.Asks = append(snap.Asks, domain.PriceLevel{
				Price: decimal.NewFromFloat(a[0]),
				Size:  decimal.NewFromFloat(a[1]),
				Side:  domain.SideAsk,
			})
		}
		sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price.GreaterThan(snap.Bids[j].Price) })
		sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price.LessThan(snap.Asks[j].Price) })
		if len(snap.Bids) > 0 {
			snap.BestBid = snap.Bids[0].Price
		}
		if len(snap.Asks) > 0 {
			snap.BestAsk = snap.Asks[0].Price
		}
		data.Snapshots = append(data.Snapshots, snap)
	}

	for _, t := range raw.Trades {
		side := domain.OrderSideBuy
		if t.Side == string(domain.OrderSideSell) {
			side = domain.OrderSideSell
		}
		data.Trades = append(data.Trades, domain.TradePrint{
			ID:        t.TradeID,
			Price:     decimal.NewFromFloat(t.Price),
			Size:      decimal.NewFromFloat(t.Size),
			Side:      side,
			Timestamp: unixTime(t.Timestamp),
		})
	}

	sort.Slice(data.Snapshots, func(i, j int) bool {
		return data.Snapshots[i].Timestamp.Before(data.Snapshots[j].Timestamp)
	})
	sort.Slice(data.Trades, func(i, j int) bool {
		return data.Trades[i].Timestamp.Before(data.Trades[j].Timestamp)
	})
	data.StartTime = data.Snapshots[0].Timestamp
	data.EndTime = data.Snapshots[len(data.Snapshots)-1].Timestamp
	return data, nil
}

// LoadJSONFile loads a dataset from a file path.
func LoadJSONFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open dataset: %w", err)
	}
	defer f.Close()
	return LoadJSON(f)
}

// LoadCSV reads a top-of-book dataset: each row is
// timestamp,bid_price,bid_size,ask_price,ask_size. A trades reader with rows
// timestamp,price,size,side may be nil.
func LoadCSV(books io.Reader, trades io.Reader) (*Data, error) {
	data := &Data{}

	br := csv.NewReader(books)
	rows, err := br.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("backtest: read orderbook csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("backtest: orderbook csv has no data rows")
	}
	for _, row := range rows[1:] {
		if len(row) < 5 {
			return nil, fmt.Errorf("backtest: orderbook csv row has %d columns, want 5", len(row))
		}
		ts, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse timestamp %q: %w", row[0], err)
		}
		bidPrice, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("backtest: parse bid price %q: %w", row[1], err)
		}
		bidSize, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("backtest: parse bid size %q: %w", row[2], err)
		}
		askPrice, err := decimal.NewFromString(row[3])
		if err != nil {
			return nil, fmt.Errorf("backtest: parse ask price %q: %w", row[3], err)
		}
		askSize, err := decimal.NewFromString(row[4])
		if err != nil {
			return nil, fmt.Errorf("backtest: parse ask size %q: %w", row[4], err)
		}
		data.Snapshots = append(data.Snapshots, domain.OrderbookSnapshot{
			Bids:      []domain.PriceLevel{{Price: bidPrice, Size: bidSize, Side: domain.SideBid}},
			Asks:      []domain.PriceLevel{{Price: askPrice, Size: askSize, Side: domain.SideAsk}},
			BestBid:   bidPrice,
			BestAsk:   askPrice,
			Timestamp: unixTime(ts),
		})
	}

	if trades != nil {
		tr := csv.NewReader(trades)
		trows, err := tr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("backtest: read trades csv: %w", err)
		}
		for i, row := range trows {
			if i == 0 {
				continue // header
			}
			if len(row) < 4 {
				return nil, fmt.Errorf("backtest: trades csv row has %d columns, want 4", len(row))
			}
			ts, err := strconv.ParseFloat(row[0], 64)
			if err != nil {
				return nil, fmt.Errorf("backtest: parse trade timestamp %q: %w", row[0], err)
			}
			price, err := decimal.NewFromString(row[1])
			if err != nil {
				return nil, fmt.Errorf("backtest: parse trade price %q: %w", row[1], err)
			}
			size, err := decimal.NewFromString(row[2])
			if err != nil {
				return nil, fmt.Errorf("backtest: parse trade size %q: %w", row[2], err)
			}
			side := domain.OrderSideBuy
			if row[3] == string(domain.OrderSideSell) {
				side = domain.OrderSideSell
			}
			data.Trades = append(data.Trades, domain.TradePrint{
				Price:     price,
				Size:      size,
				Side:      side,
				Timestamp: unixTime(ts),
			})
		}
	}

	data.StartTime = data.Snapshots[0].Timestamp
	data.EndTime = data.Snapshots[len(data.Snapshots)-1].Timestamp
	return data, nil
}

func unixTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
