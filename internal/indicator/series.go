package indicator

import (
	"github.com/shopspring/decimal"
)

// divScale 为所有中间除法统一使用的小数位数，四舍五入，
// 保证不同环境下计算结果可复现。展示层舍入由调用方负责。
const divScale = 4

// Series 表示按时间升序排列的价格序列，索引0为最早，末尾为最新。
// 构造后不应再修改。
type Series []decimal.Decimal

// NewSeries 复制一份价格数据创建 Series。
func NewSeries(prices []decimal.Decimal) Series {
	dst := make(Series, len(prices))
	copy(dst, prices)
	return dst
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s)
}

// Last 返回序列最后一个价格，序列为空时第二个返回值为 false。
func (s Series) Last() (decimal.Decimal, bool) {
	if len(s) == 0 {
		return decimal.Zero, false
	}
	return s[len(s)-1], true
}

// Line 为指标序列，与输入价格序列等长且按相同索引对齐，
// 历史数据不足处为空值。
type Line []decimal.NullDecimal

// At 返回索引 i 处的指标值，空值或越界时第二个返回值为 false。
func (l Line) At(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(l) || !l[i].Valid {
		return decimal.Zero, false
	}
	return l[i].Decimal, true
}

// Last 返回最后一个指标值。
func (l Line) Last() (decimal.Decimal, bool) {
	return l.At(len(l) - 1)
}

// Prev 返回倒数第二个指标值。
func (l Line) Prev() (decimal.Decimal, bool) {
	return l.At(len(l) - 2)
}

func value(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func lineFromSeries(s Series) Line {
	out := make(Line, len(s))
	for i, p := range s {
		out[i] = value(p)
	}
	return out
}
