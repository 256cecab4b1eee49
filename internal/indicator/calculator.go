package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// 常用指标默认参数。
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
	DefaultRSIPeriod  = 14
	DefaultBollPeriod = 20
	DefaultBollMult   = 2.0
)

// MACDResult 保存 MACD 三条序列，索引与输入价格序列一致。
type MACDResult struct {
	Dif       Line
	Dea       Line
	Histogram Line
}

// BollingerResult 保存布林带三条轨道，索引与输入价格序列一致。
type BollingerResult struct {
	Upper  Line
	Middle Line
	Lower  Line
}

// SMA 计算简单移动平均线。输出与输入等长，前 period-1 个为空值；
// 数据量不足 period 时返回空序列。
func SMA(prices Series, period int) Line {
	if period <= 0 || len(prices) < period {
		return Line{}
	}

	out := make(Line, len(prices))
	window := decimal.NewFromInt(int64(period))

	sum := decimal.Zero
	for i, p := range prices {
		sum = sum.Add(p)
		if i >= period {
			sum = sum.Sub(prices[i-period])
		}
		if i >= period-1 {
			out[i] = value(sum.DivRound(window, divScale))
		}
	}

	return out
}

// EMA 计算指数移动平均线。首个有效值位于索引 min(period, n)-1，
// 取前 min(period, n) 个价格的算术平均作为种子，之后按
// EMA(t) = Price(t)*k + EMA(t-1)*(1-k) 递推，k = 2/(period+1)。
func EMA(prices Series, period int) Line {
	if len(prices) == 0 || period <= 0 {
		return Line{}
	}
	return emaOver(lineFromSeries(prices), period)
}

// emaOver 对可能带有前导空值的序列计算 EMA，输出索引与输入对齐。
func emaOver(src Line, period int) Line {
	out := make(Line, len(src))

	start := -1
	for i := range src {
		if src[i].Valid {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}

	seedLen := period
	if n := len(src) - start; n < seedLen {
		seedLen = n
	}

	sum := decimal.Zero
	for i := start; i < start+seedLen; i++ {
		sum = sum.Add(src[i].Decimal)
	}
	ema := sum.DivRound(decimal.NewFromInt(int64(seedLen)), divScale)

	seedIdx := start + seedLen - 1
	out[seedIdx] = value(ema)

	k := decimal.NewFromInt(2).DivRound(decimal.NewFromInt(int64(period+1)), divScale)
	keep := decimal.NewFromInt(1).Sub(k)

	for i := seedIdx + 1; i < len(src); i++ {
		ema = src[i].Decimal.Mul(k).Add(ema.Mul(keep))
		out[i] = value(ema)
	}

	return out
}

// MACD 计算指数平滑异同移动平均线。
// DIF = 快线EMA - 慢线EMA；DEA = DIF 的 EMA；柱状图 = (DIF - DEA) * 2。
func MACD(prices Series, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	n := len(prices)
	result := MACDResult{
		Dif:       make(Line, n),
		Dea:       make(Line, n),
		Histogram: make(Line, n),
	}
	if n == 0 || fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return result
	}

	emaFast := EMA(prices, fastPeriod)
	emaSlow := EMA(prices, slowPeriod)

	for i := 0; i < n; i++ {
		fast, okF := emaFast.At(i)
		slow, okS := emaSlow.At(i)
		if okF && okS {
			result.Dif[i] = value(fast.Sub(slow))
		}
	}

	result.Dea = emaOver(result.Dif, signalPeriod)

	two := decimal.NewFromInt(2)
	for i := 0; i < n; i++ {
		dif, okDif := result.Dif.At(i)
		dea, okDea := result.Dea.At(i)
		if okDif && okDea {
			result.Histogram[i] = value(dif.Sub(dea).Mul(two))
		}
	}

	return result
}

// RSI 计算相对强弱指标，取值范围 [0, 100]。
// 前 period 个差值取均值作为种子，之后采用 Wilder 平滑：
// avgGain = (avgGain*(period-1) + gain) / period，跌幅同理。
// 数据量不足 period+1 时返回空序列。
func RSI(prices Series, period int) Line {
	n := len(prices)
	if period <= 0 || n < period+1 {
		return Line{}
	}

	out := make(Line, n)

	gains := make([]decimal.Decimal, n-1)
	losses := make([]decimal.Decimal, n-1)
	for i := 1; i < n; i++ {
		change := prices[i].Sub(prices[i-1])
		if change.IsPositive() {
			gains[i-1] = change
			losses[i-1] = decimal.Zero
		} else {
			gains[i-1] = decimal.Zero
			losses[i-1] = change.Abs()
		}
	}

	window := decimal.NewFromInt(int64(period))

	avgGain := decimal.Zero
	avgLoss := decimal.Zero
	for i := 0; i < period; i++ {
		avgGain = avgGain.Add(gains[i])
		avgLoss = avgLoss.Add(losses[i])
	}
	avgGain = avgGain.DivRound(window, divScale)
	avgLoss = avgLoss.DivRound(window, divScale)

	out[period] = value(rsiValue(avgGain, avgLoss))

	prev := decimal.NewFromInt(int64(period - 1))
	for i := period + 1; i < n; i++ {
		avgGain = avgGain.Mul(prev).Add(gains[i-1]).DivRound(window, divScale)
		avgLoss = avgLoss.Mul(prev).Add(losses[i-1]).DivRound(window, divScale)
		out[i] = value(rsiValue(avgGain, avgLoss))
	}

	return out
}

func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.DivRound(avgLoss, divScale)
	return hundred.Sub(hundred.DivRound(decimal.NewFromInt(1).Add(rs), divScale))
}

// BollingerBands 计算布林带。中轨为 SMA，上下轨为中轨 ± multiplier 倍
// 的总体标准差（按滚动 period 窗口计算）。SMA 为空值处上下轨同为空值。
func BollingerBands(prices Series, period int, multiplier float64) BollingerResult {
	middle := SMA(prices, period)
	if len(middle) == 0 {
		return BollingerResult{Upper: Line{}, Middle: Line{}, Lower: Line{}}
	}

	n := len(prices)
	upper := make(Line, n)
	lower := make(Line, n)
	window := decimal.NewFromInt(int64(period))

	for i := period - 1; i < n; i++ {
		mean := middle[i].Decimal

		variance := decimal.Zero
		for j := 0; j < period; j++ {
			diff := prices[i-j].Sub(mean)
			variance = variance.Add(diff.Mul(diff))
		}
		variance = variance.DivRound(window, divScale)

		offset := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()) * multiplier).Round(divScale)
		upper[i] = value(mean.Add(offset))
		lower[i] = value(mean.Sub(offset))
	}

	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}
