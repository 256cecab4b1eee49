package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientFunds 表示账户余额不足以覆盖买入成本与手续费。
	ErrInsufficientFunds = errors.New("ledger: 账户余额不足")
	// ErrInsufficientHoldings 表示持仓数量不足以卖出。
	ErrInsufficientHoldings = errors.New("ledger: 持仓数量不足")
	// ErrInvalidOrder 表示交易指令本身无效。
	ErrInvalidOrder = errors.New("ledger: 交易指令无效")
)

// DefaultCommissionRate 为默认手续费率（万分之三）。
var DefaultCommissionRate = decimal.RequireFromString("0.0003")

// avgCostScale 为加权平均成本的中间除法精度。
const avgCostScale = 4

// Ledger 实现模拟账户的交易执行。所有方法对输入快照不做任何修改，
// 返回新的 Account/Position 快照与成交记录，校验失败时不产生任何变更，
// 由持久化层对快照差异做原子落库。
type Ledger struct {
	commissionRate decimal.Decimal
	logger         *zap.Logger
}

// New 创建 Ledger。手续费率为显式配置而非隐藏常量，便于测试覆盖。
func New(commissionRate decimal.Decimal, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		commissionRate: commissionRate,
		logger:         logger,
	}
}

// ExecuteTrade 对账户执行一笔买入或卖出。先完成全部校验再做变更：
// 资金或持仓不足时返回类型化错误，此时输入快照原样返回且不产生成交记录。
func (l *Ledger) ExecuteTrade(account Account, positions []Position, instrumentCode string, kind TradeKind, quantity int64, price decimal.Decimal) (Account, []Position, Trade, error) {
	if quantity <= 0 {
		return account, positions, Trade{}, fmt.Errorf("%w: 数量必须为正, quantity=%d", ErrInvalidOrder, quantity)
	}
	if !price.IsPositive() {
		return account, positions, Trade{}, fmt.Errorf("%w: 价格必须为正, price=%s", ErrInvalidOrder, price)
	}

	amount := price.Mul(decimal.NewFromInt(quantity))
	commission := amount.Mul(l.commissionRate)

	var (
		next    Account
		updated []Position
		err     error
	)

	switch kind {
	case TradeBuy:
		next, updated, err = l.applyBuy(account, positions, instrumentCode, quantity, price, amount, commission)
	case TradeSell:
		next, updated, err = l.applySell(account, positions, instrumentCode, quantity, price, amount, commission)
	default:
		return account, positions, Trade{}, fmt.Errorf("%w: 未知交易方向 %q", ErrInvalidOrder, kind)
	}
	if err != nil {
		return account, positions, Trade{}, err
	}

	trade := Trade{
		TradeID:        uuid.NewString(),
		AccountID:      account.AccountID,
		InstrumentCode: instrumentCode,
		Kind:           kind,
		Quantity:       quantity,
		Price:          price,
		Amount:         amount,
		Commission:     commission,
		Status:         StatusCompleted,
		ExecutedAt:     time.Now().UTC(),
	}

	l.logger.Info("成交",
		zap.String("account_id", account.AccountID),
		zap.String("instrument", instrumentCode),
		zap.String("kind", string(kind)),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("commission", commission.String()),
	)

	return next, updated, trade, nil
}

func (l *Ledger) applyBuy(account Account, positions []Position, instrumentCode string, quantity int64, price, amount, commission decimal.Decimal) (Account, []Position, error) {
	totalCost := amount.Add(commission)
	if account.Balance.LessThan(totalCost) {
		return Account{}, nil, fmt.Errorf("%w: 需要 %s, 可用 %s",
			ErrInsufficientFunds, totalCost, account.Balance)
	}

	account.Balance = account.Balance.Sub(totalCost)

	updated := clonePositions(positions)
	now := time.Now().UTC()

	if idx := findPosition(updated, instrumentCode); idx >= 0 {
		pos := updated[idx]
		newQuantity := pos.Quantity + quantity
		// 加权平均成本 = (旧成本×旧数量 + 价格×数量) / 新数量
		pos.AvgCost = pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity)).
			Add(price.Mul(decimal.NewFromInt(quantity))).
			DivRound(decimal.NewFromInt(newQuantity), avgCostScale)
		pos.Quantity = newQuantity
		pos.CurrentPrice = price
		pos.MarketValue = price.Mul(decimal.NewFromInt(newQuantity))
		pos.UpdatedAt = now
		updated[idx] = pos
	} else {
		updated = append(updated, Position{
			AccountID:      account.AccountID,
			InstrumentCode: instrumentCode,
			Quantity:       quantity,
			AvgCost:        price,
			CurrentPrice:   price,
			MarketValue:    amount,
			UpdatedAt:      now,
		})
	}

	return account, updated, nil
}

func (l *Ledger) applySell(account Account, positions []Position, instrumentCode string, quantity int64, price, amount, commission decimal.Decimal) (Account, []Position, error) {
	idx := findPosition(positions, instrumentCode)
	if idx < 0 || positions[idx].Quantity < quantity {
		held := int64(0)
		if idx >= 0 {
			held = positions[idx].Quantity
		}
		return Account{}, nil, fmt.Errorf("%w: 卖出 %d, 持有 %d",
			ErrInsufficientHoldings, quantity, held)
	}

	proceeds := amount.Sub(commission)
	account.Balance = account.Balance.Add(proceeds)

	updated := clonePositions(positions)
	newQuantity := updated[idx].Quantity - quantity

	if newQuantity == 0 {
		updated = append(updated[:idx], updated[idx+1:]...)
	} else {
		pos := updated[idx]
		// 卖出不改变加权平均成本。
		pos.Quantity = newQuantity
		pos.CurrentPrice = price
		pos.MarketValue = price.Mul(decimal.NewFromInt(newQuantity))
		pos.UpdatedAt = time.Now().UTC()
		updated[idx] = pos
	}

	return account, updated, nil
}

func findPosition(positions []Position, instrumentCode string) int {
	for i := range positions {
		if positions[i].InstrumentCode == instrumentCode {
			return i
		}
	}
	return -1
}

func clonePositions(positions []Position) []Position {
	dst := make([]Position, len(positions))
	copy(dst, positions)
	return dst
}
