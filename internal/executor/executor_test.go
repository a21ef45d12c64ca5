package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fakePlacer struct {
	mu        sync.Mutex
	placed    []domain.TradingSignal
	cancelled []string
	results   []domain.OrderResult
	err       error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, sig domain.TradingSignal) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.OrderResult{}, f.err
	}
	f.placed = append(f.placed, sig)
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res, nil
	}
	return domain.OrderResult{Success: true, OrderID: "order-1"}, nil
}

func (f *fakePlacer) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakePlacer) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type fakeRisk struct {
	err error
}

func (f *fakeRisk) PreTradeCheck(context.Context, domain.TradingSignal) error {
	return f.err
}

type fakeFills struct {
	mu    sync.Mutex
	fills []domain.OrderSide
	price decimal.Decimal
}

func (f *fakeFills) ApplyFill(side domain.OrderSide, price, _ decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, side)
	f.price = price
}

func testSignal(id string) domain.TradingSignal {
	return domain.TradingSignal{
		ID:        id,
		Direction: domain.OrderSideBuy,
		Strength:  0.8,
		Price:     dec(100.5),
		Size:      dec(0.1),
		Timestamp: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}
}

func runExecutor(t *testing.T, e *Executor, signalCh chan domain.TradingSignal, sigs ...domain.TradingSignal) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	for _, sig := range sigs {
		signalCh <- sig
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}
}

func TestExecutor_PlacesOrderAndAppliesFill(t *testing.T) {
	placer := &fakePlacer{results: []domain.OrderResult{
		{Success: true, OrderID: "o1", FilledPrice: dec(100.6)},
	}}
	fills := &fakeFills{}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, fills, testLogger())

	runExecutor(t, e, signalCh, testSignal("sig-1"))

	assert.Equal(t, 1, placer.placedCount())
	require.Len(t, fills.fills, 1)
	assert.Equal(t, domain.OrderSideBuy, fills.fills[0])
	assert.True(t, fills.price.Equal(dec(100.6)), "fill at exchange price, not signal price")
}

func TestExecutor_DeduplicatesSignals(t *testing.T) {
	placer := &fakePlacer{}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	sig := testSignal("dup-1")
	runExecutor(t, e, signalCh, sig, sig, sig)

	assert.Equal(t, 1, placer.placedCount())
}

func TestExecutor_SkipsExpiredSignal(t *testing.T) {
	placer := &fakePlacer{}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	sig := testSignal("old-1")
	sig.ExpiresAt = time.Now().UTC().Add(-time.Second)
	runExecutor(t, e, signalCh, sig)

	assert.Zero(t, placer.placedCount())
}

func TestExecutor_RiskCheckBlocks(t *testing.T) {
	placer := &fakePlacer{}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{err: errors.New("daily loss limit reached")}, nil, testLogger())

	runExecutor(t, e, signalCh, testSignal("blocked-1"))

	assert.Zero(t, placer.placedCount())
}

func TestExecutor_RetriesRejectedOrderOnce(t *testing.T) {
	placer := &fakePlacer{results: []domain.OrderResult{
		{Success: false, Message: "transient", ShouldRetry: true},
		{Success: true, OrderID: "o2"},
	}}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	signalCh <- testSignal("retry-1")
	// The retry waits 500ms before the second attempt.
	time.Sleep(700 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, placer.placedCount())
}

func TestExecutor_NoRetryWhenNotRetryable(t *testing.T) {
	placer := &fakePlacer{results: []domain.OrderResult{
		{Success: false, Message: "insufficient margin", ShouldRetry: false},
	}}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	runExecutor(t, e, signalCh, testSignal("reject-1"))

	assert.Equal(t, 1, placer.placedCount())
}

func TestExecutor_CancelsPreviousQuoteOnSameSide(t *testing.T) {
	placer := &fakePlacer{results: []domain.OrderResult{
		{Success: true, OrderID: "o1"},
		{Success: true, OrderID: "o2"},
	}}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	first := testSignal("quote-1")
	second := testSignal("quote-2")
	runExecutor(t, e, signalCh, first, second)

	assert.Equal(t, 2, placer.placedCount())
	require.Len(t, placer.cancelled, 1)
	assert.Equal(t, "o1", placer.cancelled[0])
}

func TestExecutor_DrainsBufferedSignalsOnShutdown(t *testing.T) {
	placer := &fakePlacer{}
	signalCh := make(chan domain.TradingSignal, 4)
	e := NewExecutor(signalCh, placer, &fakeRisk{}, nil, testLogger())

	// Buffer signals before the loop ever runs, then cancel immediately.
	signalCh <- testSignal("drain-1")
	signalCh <- testSignal("drain-2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, placer.placedCount())
}

func TestDedup(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, d.IsDuplicate("a"), "expired entry re-admitted")

	d.Cleanup()
	assert.True(t, d.IsDuplicate("a"), "cleanup keeps fresh entries")
}
