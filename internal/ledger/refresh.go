package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceFunc 为价格查询回调，由价格协作方实现。
type PriceFunc func(ctx context.Context, instrumentCode string) (decimal.Decimal, error)

// RecomputeTotals 按最新价格刷新各持仓的市值与盈亏，并重算账户总资产。
// 这是读取时的刷新操作，不属于交易执行事务：单只标的取价失败时记录日志
// 并沿用原有数据继续处理其余持仓，总资产按刷新后（或沿用的）市值汇总。
func (l *Ledger) RecomputeTotals(ctx context.Context, account Account, positions []Position, price PriceFunc) (Account, []Position) {
	updated := clonePositions(positions)
	totalMarketValue := decimal.Zero

	for i := range updated {
		current, err := price(ctx, updated[i].InstrumentCode)
		if err != nil {
			l.logger.Warn("更新持仓价格失败",
				zap.String("instrument", updated[i].InstrumentCode),
				zap.Error(err),
			)
			totalMarketValue = totalMarketValue.Add(updated[i].MarketValue)
			continue
		}

		updated[i] = refreshPosition(updated[i], current)
		totalMarketValue = totalMarketValue.Add(updated[i].MarketValue)
	}

	account.TotalAssets = account.Balance.Add(totalMarketValue)
	return account, updated
}

func refreshPosition(pos Position, current decimal.Decimal) Position {
	quantity := decimal.NewFromInt(pos.Quantity)

	pos.CurrentPrice = current
	pos.MarketValue = current.Mul(quantity)

	costBasis := pos.AvgCost.Mul(quantity)
	pos.ProfitLoss = pos.MarketValue.Sub(costBasis)
	if costBasis.IsPositive() {
		pos.ProfitLossPct = pos.ProfitLoss.DivRound(costBasis, avgCostScale).Mul(decimal.NewFromInt(100))
	} else {
		pos.ProfitLossPct = decimal.Zero
	}
	pos.UpdatedAt = time.Now().UTC()

	return pos
}
