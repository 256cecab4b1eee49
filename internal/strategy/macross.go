package strategy

import (
	"fmt"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"quant-sim/internal/indicator"
)

// KindMACross 为双均线交叉策略类型。
const KindMACross Kind = "MA_CROSS"

// 双均线策略默认参数与取值范围。
const (
	defaultShortPeriod = 5
	defaultLongPeriod  = 20
	minPeriod          = 2
	maxShortPeriod     = 100
	maxLongPeriod      = 200
)

// MACrossParams 为双均线交叉策略参数。
type MACrossParams struct {
	ShortPeriod int `mapstructure:"shortPeriod"`
	LongPeriod  int `mapstructure:"longPeriod"`
}

// Validate 校验参数取值范围并确保短周期小于长周期。
func (p MACrossParams) Validate() error {
	if p.ShortPeriod < minPeriod || p.ShortPeriod > maxShortPeriod {
		return fmt.Errorf("%w: shortPeriod=%d 应位于[%d,%d]", ErrInvalidParams, p.ShortPeriod, minPeriod, maxShortPeriod)
	}
	if p.LongPeriod < minPeriod || p.LongPeriod > maxLongPeriod {
		return fmt.Errorf("%w: longPeriod=%d 应位于[%d,%d]", ErrInvalidParams, p.LongPeriod, minPeriod, maxLongPeriod)
	}
	if p.ShortPeriod >= p.LongPeriod {
		return fmt.Errorf("%w: shortPeriod=%d 必须小于 longPeriod=%d", ErrInvalidParams, p.ShortPeriod, p.LongPeriod)
	}
	return nil
}

// MACross 实现双均线交叉策略：短期均线向上穿越长期均线产生买入信号（金叉），
// 向下穿越产生卖出信号（死叉），否则持有。
type MACross struct {
	params MACrossParams
}

// NewMACross 解析并校验参数后创建策略实例，缺省参数为 5/20。
func NewMACross(params map[string]float64) (*MACross, error) {
	p := MACrossParams{
		ShortPeriod: defaultShortPeriod,
		LongPeriod:  defaultLongPeriod,
	}

	if len(params) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &p,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("strategy: 创建参数解析器失败: %w", err)
		}
		if err := decoder.Decode(params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &MACross{params: p}, nil
}

// Kind 返回策略类型。
func (s *MACross) Kind() Kind {
	return KindMACross
}

// Params 返回解析后的策略参数。
func (s *MACross) Params() MACrossParams {
	return s.params
}

// Evaluate 对给定价格序列生成交易信号。
func (s *MACross) Evaluate(instrumentCode string, prices indicator.Series) Signal {
	if prices.Len() < s.params.LongPeriod {
		return s.holdSignal(instrumentCode, prices, "数据不足，无法计算均线")
	}

	shortMA := indicator.SMA(prices, s.params.ShortPeriod)
	longMA := indicator.SMA(prices, s.params.LongPeriod)

	curShort, _ := shortMA.Last()
	curLong, _ := longMA.Last()
	prevShort, okShort := shortMA.Prev()
	prevLong, okLong := longMA.Prev()
	if !okShort || !okLong {
		return s.holdSignal(instrumentCode, prices, "数据不足，无法判断均线交叉")
	}

	price, _ := prices.Last()
	signal := Signal{
		InstrumentCode: instrumentCode,
		StrategyKind:   KindMACross,
		Price:          price,
		GeneratedAt:    time.Now().UTC(),
	}

	switch {
	// 金叉: 前一日短期MA < 长期MA，当日短期MA > 长期MA。
	case prevShort.LessThan(prevLong) && curShort.GreaterThan(curLong):
		signal.Kind = SignalBuy
		signal.Strength = crossStrength(curShort, curLong)
		signal.Reason = fmt.Sprintf("金叉信号: MA%d(%s) 向上穿越 MA%d(%s)",
			s.params.ShortPeriod, curShort.StringFixed(2), s.params.LongPeriod, curLong.StringFixed(2))

	// 死叉: 前一日短期MA > 长期MA，当日短期MA < 长期MA。
	case prevShort.GreaterThan(prevLong) && curShort.LessThan(curLong):
		signal.Kind = SignalSell
		signal.Strength = crossStrength(curShort, curLong)
		signal.Reason = fmt.Sprintf("死叉信号: MA%d(%s) 向下穿越 MA%d(%s)",
			s.params.ShortPeriod, curShort.StringFixed(2), s.params.LongPeriod, curLong.StringFixed(2))

	default:
		signal.Kind = SignalHold
		signal.Strength = decimal.Zero
		side := "上方"
		if curShort.LessThanOrEqual(curLong) {
			side = "下方"
		}
		signal.Reason = fmt.Sprintf("无交叉信号: MA%d(%s) 在 MA%d(%s) %s",
			s.params.ShortPeriod, curShort.StringFixed(2), s.params.LongPeriod, curLong.StringFixed(2), side)
	}

	return signal
}

// crossStrength 计算交叉幅度：短长均线差相对长期均线的百分比绝对值。
func crossStrength(curShort, curLong decimal.Decimal) decimal.Decimal {
	if curLong.IsZero() {
		return decimal.Zero
	}
	return curShort.Sub(curLong).DivRound(curLong, 4).Mul(decimal.NewFromInt(100)).Abs()
}

func (s *MACross) holdSignal(instrumentCode string, prices indicator.Series, reason string) Signal {
	price, ok := prices.Last()
	if !ok {
		price = decimal.Zero
	}
	return Signal{
		InstrumentCode: instrumentCode,
		StrategyKind:   KindMACross,
		Kind:           SignalHold,
		Price:          price,
		Strength:       decimal.Zero,
		Reason:         reason,
		GeneratedAt:    time.Now().UTC(),
	}
}
