package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-sim/internal/config"
	"quant-sim/internal/ledger"
	"quant-sim/internal/store"
	"quant-sim/internal/strategy"
)

type stubPrices struct {
	current map[string]decimal.Decimal
	history map[string][]decimal.Decimal
	histErr map[string]error
}

func (s *stubPrices) GetCurrentPrice(_ context.Context, instrumentCode string) (decimal.Decimal, error) {
	price, ok := s.current[instrumentCode]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", instrumentCode)
	}
	return price, nil
}

func (s *stubPrices) GetHistoricalPrices(_ context.Context, instrumentCode string, _ int) ([]decimal.Decimal, error) {
	if err := s.histErr[instrumentCode]; err != nil {
		return nil, err
	}
	return s.history[instrumentCode], nil
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return v
}

func newTestService(t *testing.T, prices PriceProvider) *Service {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	repo, err := NewRepository(st)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}

	ldg := ledger.New(decimal.Zero, zap.NewNop())
	return NewService(repo, ldg, prices, strategy.NewRegistry(), nil,
		config.TradingConfig{InitialBalance: 1000000},
		config.StrategyConfig{BatchConcurrency: 2},
		zap.NewNop())
}

func TestCreateAccount(t *testing.T) {
	svc := newTestService(t, &stubPrices{})
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if !acct.Balance.Equal(d(t, "1000000")) {
		t.Errorf("initial balance = %s, want 1000000", acct.Balance)
	}
	if !acct.TotalAssets.Equal(acct.Balance) {
		t.Errorf("total assets = %s, want %s", acct.TotalAssets, acct.Balance)
	}

	if _, err := svc.CreateAccount(ctx, "user-1"); !errors.Is(err, ErrAccountExists) {
		t.Errorf("duplicate create error = %v, want ErrAccountExists", err)
	}
}

func TestGetAccountUnknownUser(t *testing.T) {
	svc := newTestService(t, &stubPrices{})

	if _, err := svc.GetAccount(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestExecuteTradePersistsAcrossReload(t *testing.T) {
	prices := &stubPrices{current: map[string]decimal.Decimal{
		"600036.SH": d(t, "36.00"),
	}}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	trade, err := svc.ExecuteTrade(ctx, "user-1", "600036.SH", ledger.TradeBuy, 100, d(t, "35.80"))
	if err != nil {
		t.Fatalf("ExecuteTrade returned error: %v", err)
	}
	if !trade.Amount.Equal(d(t, "3580")) {
		t.Errorf("trade amount = %s, want 3580", trade.Amount)
	}

	acct, err := svc.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !acct.Balance.Equal(d(t, "996420")) {
		t.Errorf("balance after buy = %s, want 996420", acct.Balance)
	}
	// 持仓按 36.00 刷新：市值 3600，总资产 996420 + 3600。
	if !acct.TotalAssets.Equal(d(t, "1000020")) {
		t.Errorf("total assets = %s, want 1000020", acct.TotalAssets)
	}

	positions, err := svc.GetPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions len = %d, want 1", len(positions))
	}
	if positions[0].Quantity != 100 {
		t.Errorf("position quantity = %d, want 100", positions[0].Quantity)
	}
	if !positions[0].AvgCost.Equal(d(t, "35.8")) {
		t.Errorf("position avg cost = %s, want 35.8", positions[0].AvgCost)
	}

	trades, err := svc.GetTradeHistory(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("GetTradeHistory returned error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trade history len = %d, want 1", len(trades))
	}
	if trades[0].TradeID != trade.TradeID {
		t.Errorf("trade id = %s, want %s", trades[0].TradeID, trade.TradeID)
	}
}

func TestExecuteTradeSellClosesPosition(t *testing.T) {
	prices := &stubPrices{current: map[string]decimal.Decimal{
		"000001.SZ": d(t, "11.40"),
	}}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if _, err := svc.ExecuteTrade(ctx, "user-1", "000001.SZ", ledger.TradeBuy, 200, d(t, "11.40")); err != nil {
		t.Fatalf("buy returned error: %v", err)
	}
	if _, err := svc.ExecuteTrade(ctx, "user-1", "000001.SZ", ledger.TradeSell, 200, d(t, "11.40")); err != nil {
		t.Fatalf("sell returned error: %v", err)
	}

	positions, err := svc.GetPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("positions len = %d, want 0 after closing", len(positions))
	}

	acct, err := svc.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !acct.Balance.Equal(d(t, "1000000")) {
		t.Errorf("balance after round trip = %s, want 1000000", acct.Balance)
	}
}

func TestExecuteTradeRejectionLeavesStateUnchanged(t *testing.T) {
	svc := newTestService(t, &stubPrices{})
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	_, err := svc.ExecuteTrade(ctx, "user-1", "600519.SH", ledger.TradeSell, 100, d(t, "1680"))
	if !errors.Is(err, ledger.ErrInsufficientHoldings) {
		t.Fatalf("error = %v, want ErrInsufficientHoldings", err)
	}

	trades, err := svc.GetTradeHistory(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("GetTradeHistory returned error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trade history len = %d, want 0 after rejection", len(trades))
	}
}

func TestExecuteTradeUsesMarketPriceWhenZero(t *testing.T) {
	prices := &stubPrices{current: map[string]decimal.Decimal{
		"000858.SZ": d(t, "128.50"),
	}}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	trade, err := svc.ExecuteTrade(ctx, "user-1", "000858.SZ", ledger.TradeBuy, 10, decimal.Zero)
	if err != nil {
		t.Fatalf("ExecuteTrade returned error: %v", err)
	}
	if !trade.Price.Equal(d(t, "128.50")) {
		t.Errorf("trade price = %s, want market price 128.50", trade.Price)
	}
}

func TestGenerateSignalsPartialFailure(t *testing.T) {
	// 两段行情都足以计算 MA2/MA3，其中一只标的行情获取失败。
	goldenCross := []decimal.Decimal{
		d(t, "10"), d(t, "9"), d(t, "8"), d(t, "12"),
	}
	prices := &stubPrices{
		history: map[string][]decimal.Decimal{
			"600036.SH": goldenCross,
			"000001.SZ": goldenCross,
		},
		histErr: map[string]error{
			"000002.SZ": errors.New("upstream unavailable"),
		},
	}
	svc := newTestService(t, prices)
	ctx := context.Background()

	strat, err := svc.Registry().New(strategy.Config{
		Kind:   strategy.KindMACross,
		Params: map[string]float64{"shortPeriod": 2, "longPeriod": 3},
	})
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}

	results := svc.GenerateSignals(ctx, strat, []string{"600036.SH", "000002.SZ", "000001.SZ"}, 0)
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}

	if results[0].Err != nil {
		t.Errorf("600036.SH unexpected error: %v", results[0].Err)
	}
	if results[0].Signal.Kind != strategy.SignalBuy {
		t.Errorf("600036.SH signal = %s, want BUY", results[0].Signal.Kind)
	}
	if results[0].SignalID == 0 {
		t.Error("600036.SH signal id not assigned")
	}

	if results[1].Err == nil {
		t.Error("000002.SZ expected error, got nil")
	}
	if results[2].Err != nil {
		t.Errorf("000001.SZ unexpected error: %v", results[2].Err)
	}

	records, err := svc.ListSignals(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSignals returned error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("persisted signals = %d, want 2", len(records))
	}
}

func TestMarkSignalExecuted(t *testing.T) {
	prices := &stubPrices{
		history: map[string][]decimal.Decimal{
			"600036.SH": {d(t, "10"), d(t, "9"), d(t, "8"), d(t, "12")},
		},
	}
	svc := newTestService(t, prices)
	ctx := context.Background()

	strat, err := svc.Registry().New(strategy.Config{
		Kind:   strategy.KindMACross,
		Params: map[string]float64{"shortPeriod": 2, "longPeriod": 3},
	})
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}

	result, err := svc.GenerateSignal(ctx, strat, "600036.SH", 0)
	if err != nil {
		t.Fatalf("GenerateSignal returned error: %v", err)
	}

	if err := svc.MarkSignalExecuted(ctx, result.SignalID); err != nil {
		t.Fatalf("MarkSignalExecuted returned error: %v", err)
	}

	records, err := svc.ListSignals(ctx, "600036.SH", 10)
	if err != nil {
		t.Fatalf("ListSignals returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records len = %d, want 1", len(records))
	}
	if !records[0].Executed {
		t.Error("signal not marked as executed")
	}

	if err := svc.MarkSignalExecuted(ctx, 9999); !errors.Is(err, ErrSignalNotFound) {
		t.Errorf("unknown id error = %v, want ErrSignalNotFound", err)
	}
}

// blockingPrices 的第一次行情查询会阻塞，直到测试显式放行，
// 用于构造刷新持锁期间的并发交易时序。
type blockingPrices struct {
	price   decimal.Decimal
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingPrices) GetCurrentPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	var first bool
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.price, nil
}

func (b *blockingPrices) GetHistoricalPrices(_ context.Context, _ string, _ int) ([]decimal.Decimal, error) {
	return nil, errors.New("not implemented")
}

func TestRefreshSerializedWithTrade(t *testing.T) {
	prices := &blockingPrices{
		price:   decimal.NewFromInt(10),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if _, err := svc.ExecuteTrade(ctx, "user-1", "000001.SZ", ledger.TradeBuy, 100, d(t, "10")); err != nil {
		t.Fatalf("buy returned error: %v", err)
	}

	refreshDone := make(chan error, 1)
	go func() {
		_, err := svc.GetPositions(ctx, "user-1")
		refreshDone <- err
	}()
	<-prices.entered

	sellPrice := d(t, "10")
	sellDone := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteTrade(ctx, "user-1", "000001.SZ", ledger.TradeSell, 100, sellPrice)
		sellDone <- err
	}()

	// 刷新仍持有账户锁，卖出必须排队。
	select {
	case err := <-sellDone:
		t.Fatalf("sell completed while refresh held the account lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(prices.release)
	if err := <-refreshDone; err != nil {
		t.Fatalf("refresh returned error: %v", err)
	}
	if err := <-sellDone; err != nil {
		t.Fatalf("sell returned error: %v", err)
	}

	// 卖出在刷新之后执行，刷新回写不得复活已清空的持仓或覆盖余额。
	acct, err := svc.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !acct.Balance.Equal(d(t, "1000000")) {
		t.Errorf("balance after serialized sell = %s, want 1000000", acct.Balance)
	}
	positions, err := svc.GetPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("positions len = %d, want 0 (closed position must stay deleted)", len(positions))
	}
}

func TestExecuteTradeConcurrentSameAccount(t *testing.T) {
	prices := &stubPrices{current: map[string]decimal.Decimal{
		"600036.SH": d(t, "10"),
	}}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	const workers = 8
	buyPrice := d(t, "10")
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteTrade(ctx, "user-1", "600036.SH", ledger.TradeBuy, 10, buyPrice)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent buy returned error: %v", err)
		}
	}

	acct, err := svc.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	// 8 笔各 10 股 @10，余额准确减少 800，不允许丢失更新。
	if !acct.Balance.Equal(d(t, "999200")) {
		t.Errorf("balance after concurrent buys = %s, want 999200", acct.Balance)
	}

	positions, err := svc.GetPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions len = %d, want 1", len(positions))
	}
	if positions[0].Quantity != workers*10 {
		t.Errorf("position quantity = %d, want %d", positions[0].Quantity, workers*10)
	}

	trades, err := svc.GetTradeHistory(ctx, "user-1", workers)
	if err != nil {
		t.Fatalf("GetTradeHistory returned error: %v", err)
	}
	if len(trades) != workers {
		t.Errorf("trade history len = %d, want %d", len(trades), workers)
	}
}

func TestStalePriceKeptWhenRefreshFails(t *testing.T) {
	prices := &stubPrices{current: map[string]decimal.Decimal{
		"002415.SZ": d(t, "32.15"),
	}}
	svc := newTestService(t, prices)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1"); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if _, err := svc.ExecuteTrade(ctx, "user-1", "002415.SZ", ledger.TradeBuy, 100, d(t, "32.15")); err != nil {
		t.Fatalf("buy returned error: %v", err)
	}

	// 行情源失效后刷新保留上一次的市值。
	delete(prices.current, "002415.SZ")

	positions, err := svc.GetPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions len = %d, want 1", len(positions))
	}
	if !positions[0].MarketValue.Equal(d(t, "3215")) {
		t.Errorf("stale market value = %s, want 3215", positions[0].MarketValue)
	}
}
