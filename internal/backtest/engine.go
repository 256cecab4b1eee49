package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-sim/internal/indicator"
	"quant-sim/internal/ledger"
	"quant-sim/internal/strategy"
)

// Result 汇总回测结果。
type Result struct {
	Metrics      Metrics
	EquityCurve  []float64
	ReturnSeries []float64
	Trades       int
	FinalEquity  float64
}

// Engine 按历史序列逐步驱动策略，并通过模拟账本执行产生的信号。
// 买入信号在空仓时按配置比例的资金开仓，卖出信号清空持仓。
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, strat strategy.Strategy, logger *zap.Logger) (*Engine, error) {
	if strat == nil {
		return nil, fmt.Errorf("backtest: strategy 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	return &Engine{
		cfg:    cfg,
		strat:  strat,
		ledger: ledger.New(cfg.CommissionRate, logger),
		logger: logger,
	}, nil
}

// Run 对整段历史价格执行回测。每个时间步先按收盘价评估策略，
// 再以同一价格成交，权益曲线记录每步结束时的总资产。
func (e *Engine) Run(ctx context.Context, prices indicator.Series) (Result, error) {
	if prices.Len() == 0 {
		return Result{}, fmt.Errorf("backtest: 历史价格不能为空")
	}

	account := ledger.Account{
		AccountID:   "backtest",
		Balance:     e.cfg.InitialBalance,
		TotalAssets: e.cfg.InitialBalance,
	}
	var positions []ledger.Position

	equity := make([]float64, 0, prices.Len())
	returns := make([]float64, 0, prices.Len())
	trades := 0

	prevEquity := e.cfg.InitialBalance

	for i := 0; i < prices.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		price := prices[i]
		signal := e.strat.Evaluate(e.cfg.InstrumentCode, prices[:i+1])

		var executed bool
		switch signal.Kind {
		case strategy.SignalBuy:
			account, positions, executed = e.openPosition(account, positions, price)
		case strategy.SignalSell:
			account, positions, executed = e.closePosition(account, positions, price)
		}
		if executed {
			trades++
		}

		stepEquity := account.Balance
		for _, pos := range positions {
			stepEquity = stepEquity.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
		}
		equity = append(equity, stepEquity.InexactFloat64())
		if i > 0 && prevEquity.IsPositive() {
			ret := stepEquity.Sub(prevEquity).DivRound(prevEquity, 8)
			returns = append(returns, ret.InexactFloat64())
		}
		prevEquity = stepEquity
	}

	return Result{
		Metrics:      calculateMetrics(equity, returns),
		EquityCurve:  equity,
		ReturnSeries: returns,
		Trades:       trades,
		FinalEquity:  equity[len(equity)-1],
	}, nil
}

func (e *Engine) openPosition(account ledger.Account, positions []ledger.Position, price decimal.Decimal) (ledger.Account, []ledger.Position, bool) {
	if len(positions) > 0 {
		return account, positions, false
	}

	budget := account.Balance.Mul(decimal.NewFromFloat(e.cfg.PositionFraction))
	// 留出手续费空间，按成交成本反推可买数量。
	unitCost := price.Mul(decimal.NewFromInt(1).Add(e.cfg.CommissionRate))
	quantity := budget.Div(unitCost).IntPart()
	if quantity <= 0 {
		return account, positions, false
	}

	next, updated, _, err := e.ledger.ExecuteTrade(account, positions, e.cfg.InstrumentCode, ledger.TradeBuy, quantity, price)
	if err != nil {
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			e.logger.Warn("回测买入失败", zap.Error(err))
		}
		return account, positions, false
	}
	return next, updated, true
}

func (e *Engine) closePosition(account ledger.Account, positions []ledger.Position, price decimal.Decimal) (ledger.Account, []ledger.Position, bool) {
	if len(positions) == 0 {
		return account, positions, false
	}

	quantity := positions[0].Quantity
	next, updated, _, err := e.ledger.ExecuteTrade(account, positions, e.cfg.InstrumentCode, ledger.TradeSell, quantity, price)
	if err != nil {
		e.logger.Warn("回测卖出失败", zap.Error(err))
		return account, positions, false
	}
	return next, updated, true
}
