package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"quant-sim/internal/indicator"
	"quant-sim/internal/strategy"
)

// scriptedStrategy 按窗口长度返回预设信号，未命中时返回 HOLD。
type scriptedStrategy struct {
	signals map[int]strategy.SignalKind
}

func (s *scriptedStrategy) Kind() strategy.Kind {
	return "SCRIPTED"
}

func (s *scriptedStrategy) Evaluate(instrumentCode string, prices indicator.Series) strategy.Signal {
	kind, ok := s.signals[prices.Len()]
	if !ok {
		kind = strategy.SignalHold
	}
	last, _ := prices.Last()
	return strategy.Signal{
		InstrumentCode: instrumentCode,
		Kind:           kind,
		Price:          last,
	}
}

func seriesOf(t *testing.T, values ...string) indicator.Series {
	t.Helper()
	out := make(indicator.Series, 0, len(values))
	for _, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			t.Fatalf("parse decimal %q: %v", v, err)
		}
		out = append(out, d)
	}
	return out
}

func newEngine(t *testing.T, cfg Config, signals map[int]strategy.SignalKind) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, &scriptedStrategy{signals: signals}, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return engine
}

func TestRunBuyThenSell(t *testing.T) {
	engine := newEngine(t, Config{
		InstrumentCode: "600036.SH",
		InitialBalance: decimal.NewFromInt(1000),
	}, map[int]strategy.SignalKind{
		1: strategy.SignalBuy,
		3: strategy.SignalSell,
	})

	result, err := engine.Run(context.Background(), seriesOf(t, "10", "10", "20"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Trades != 2 {
		t.Errorf("trades = %d, want 2", result.Trades)
	}
	if math.Abs(result.FinalEquity-2000) > 1e-9 {
		t.Errorf("final equity = %f, want 2000", result.FinalEquity)
	}
	if math.Abs(result.Metrics.TotalReturn-1.0) > 1e-9 {
		t.Errorf("total return = %f, want 1.0", result.Metrics.TotalReturn)
	}
}

func TestRunDrawdownOnDip(t *testing.T) {
	engine := newEngine(t, Config{
		InstrumentCode: "600036.SH",
		InitialBalance: decimal.NewFromInt(1000),
	}, map[int]strategy.SignalKind{
		1: strategy.SignalBuy,
	})

	result, err := engine.Run(context.Background(), seriesOf(t, "10", "5", "10"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if math.Abs(result.Metrics.MaxDrawdown-0.5) > 1e-9 {
		t.Errorf("max drawdown = %f, want 0.5", result.Metrics.MaxDrawdown)
	}
	if math.Abs(result.Metrics.TotalReturn) > 1e-9 {
		t.Errorf("total return = %f, want 0", result.Metrics.TotalReturn)
	}
}

func TestRunBuySignalIgnoredWhenHolding(t *testing.T) {
	engine := newEngine(t, Config{
		InstrumentCode: "600036.SH",
		InitialBalance: decimal.NewFromInt(1000),
	}, map[int]strategy.SignalKind{
		1: strategy.SignalBuy,
		2: strategy.SignalBuy,
	})

	result, err := engine.Run(context.Background(), seriesOf(t, "10", "10", "10"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Trades != 1 {
		t.Errorf("trades = %d, want 1 (second buy ignored)", result.Trades)
	}
}

func TestRunSellWithoutPositionIgnored(t *testing.T) {
	engine := newEngine(t, Config{
		InstrumentCode: "600036.SH",
		InitialBalance: decimal.NewFromInt(1000),
	}, map[int]strategy.SignalKind{
		1: strategy.SignalSell,
	})

	result, err := engine.Run(context.Background(), seriesOf(t, "10", "10"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Trades != 0 {
		t.Errorf("trades = %d, want 0", result.Trades)
	}
	if math.Abs(result.FinalEquity-1000) > 1e-9 {
		t.Errorf("final equity = %f, want 1000", result.FinalEquity)
	}
}

func TestRunCommissionReducesProceeds(t *testing.T) {
	engine := newEngine(t, Config{
		InstrumentCode: "600036.SH",
		InitialBalance: decimal.NewFromInt(1000),
		CommissionRate: decimal.RequireFromString("0.01"),
	}, map[int]strategy.SignalKind{
		1: strategy.SignalBuy,
		3: strategy.SignalSell,
	})

	result, err := engine.Run(context.Background(), seriesOf(t, "10", "10", "20"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 预算 1000、单位成本 10.1 → 买入 99 股，成本 990 + 手续费 9.9。
	// 以 20 卖出：1980 - 19.8，期末权益 1960.3。
	if math.Abs(result.FinalEquity-1960.3) > 1e-6 {
		t.Errorf("final equity = %f, want 1960.3", result.FinalEquity)
	}
}

func TestRunEmptySeries(t *testing.T) {
	engine := newEngine(t, Config{InstrumentCode: "600036.SH"}, nil)

	if _, err := engine.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty series")
	}
}
