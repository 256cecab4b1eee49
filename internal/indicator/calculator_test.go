package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal literal %q: %v", s, err)
	}
	return v
}

func constantSeries(t *testing.T, price string, n int) Series {
	t.Helper()
	v := d(t, price)
	prices := make([]decimal.Decimal, n)
	for i := range prices {
		prices[i] = v
	}
	return NewSeries(prices)
}

func seriesOf(t *testing.T, values ...string) Series {
	t.Helper()
	prices := make([]decimal.Decimal, len(values))
	for i, s := range values {
		prices[i] = d(t, s)
	}
	return NewSeries(prices)
}

func TestSMA_InsufficientData(t *testing.T) {
	prices := seriesOf(t, "10.00", "10.50")
	if got := SMA(prices, 5); len(got) != 0 {
		t.Fatalf("expected empty line for short input, got len=%d", len(got))
	}
	if got := SMA(Series{}, 3); len(got) != 0 {
		t.Fatalf("expected empty line for empty input, got len=%d", len(got))
	}
}

func TestSMA_LeadingAbsence(t *testing.T) {
	prices := seriesOf(t, "1", "2", "3", "4", "5")
	line := SMA(prices, 3)
	if len(line) != prices.Len() {
		t.Fatalf("expected aligned length %d, got %d", prices.Len(), len(line))
	}
	for i := 0; i < 2; i++ {
		if _, ok := line.At(i); ok {
			t.Errorf("expected absence at index %d", i)
		}
	}
	expected := []string{"2", "3", "4"}
	for i, want := range expected {
		got, ok := line.At(i + 2)
		if !ok {
			t.Fatalf("expected value at index %d", i+2)
		}
		if !got.Equal(d(t, want)) {
			t.Errorf("sma[%d] = %s, want %s", i+2, got, want)
		}
	}
}

func TestSMA_ConstantSeries(t *testing.T) {
	prices := constantSeries(t, "12.34", 30)
	line := SMA(prices, 7)
	for i := 6; i < 30; i++ {
		got, ok := line.At(i)
		if !ok {
			t.Fatalf("expected value at index %d", i)
		}
		if !got.Equal(d(t, "12.34")) {
			t.Errorf("sma[%d] = %s, want 12.34", i, got)
		}
	}
}

func TestEMA_ConstantSeries(t *testing.T) {
	prices := constantSeries(t, "88.8", 40)
	line := EMA(prices, 12)
	for i := 11; i < 40; i++ {
		got, ok := line.At(i)
		if !ok {
			t.Fatalf("expected value at index %d", i)
		}
		if !got.Equal(d(t, "88.8")) {
			t.Errorf("ema[%d] = %s, want 88.8", i, got)
		}
	}
	if _, ok := line.At(10); ok {
		t.Errorf("expected absence before seed index")
	}
}

func TestEMA_SeedFromSMA(t *testing.T) {
	prices := seriesOf(t, "10", "11", "12", "13", "14", "15")
	line := EMA(prices, 5)

	// 种子位于索引4，取前5个价格的均值。
	seed, ok := line.At(4)
	if !ok {
		t.Fatal("expected seed value at index 4")
	}
	if !seed.Equal(d(t, "12")) {
		t.Errorf("seed = %s, want 12", seed)
	}

	// 之后按递推公式计算：k = 2/6 ≈ 0.3333。
	k := d(t, "0.3333")
	want := d(t, "15").Mul(k).Add(seed.Mul(decimal.NewFromInt(1).Sub(k)))
	got, ok := line.At(5)
	if !ok {
		t.Fatal("expected value at index 5")
	}
	if !got.Equal(want) {
		t.Errorf("ema[5] = %s, want %s", got, want)
	}
}

func TestEMA_ShortInputSeedsFromAvailable(t *testing.T) {
	prices := seriesOf(t, "10", "20")
	line := EMA(prices, 5)
	if len(line) != 2 {
		t.Fatalf("expected aligned length 2, got %d", len(line))
	}
	got, ok := line.At(1)
	if !ok {
		t.Fatal("expected seed at index min(p,n)-1 = 1")
	}
	if !got.Equal(d(t, "15")) {
		t.Errorf("seed = %s, want 15", got)
	}
	if _, ok := line.At(0); ok {
		t.Error("expected absence at index 0")
	}
}

func TestMACD_HistogramIdentity(t *testing.T) {
	prices := seriesOf(t,
		"10.0", "10.2", "10.1", "10.4", "10.8", "10.6", "10.9", "11.2",
		"11.0", "11.4", "11.8", "11.5", "11.9", "12.3", "12.1", "12.6",
		"12.4", "12.8", "13.1", "12.9", "13.4", "13.2", "13.6", "14.0",
		"13.8", "14.2", "14.5", "14.3", "14.8", "15.0", "14.7", "15.2",
	)
	result := MACD(prices, 3, 6, 4)

	two := decimal.NewFromInt(2)
	defined := 0
	for i := 0; i < prices.Len(); i++ {
		hist, okHist := result.Histogram.At(i)
		dif, okDif := result.Dif.At(i)
		dea, okDea := result.Dea.At(i)
		if okHist != (okDif && okDea) {
			t.Fatalf("histogram definedness mismatch at index %d", i)
		}
		if !okHist {
			continue
		}
		defined++
		want := dif.Sub(dea).Mul(two)
		if !hist.Equal(want) {
			t.Errorf("histogram[%d] = %s, want %s", i, hist, want)
		}
	}
	if defined == 0 {
		t.Fatal("expected at least one defined MACD point")
	}
}

func TestMACD_AlignedWithInput(t *testing.T) {
	prices := constantSeries(t, "50", 40)
	result := MACD(prices, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if len(result.Dif) != 40 || len(result.Dea) != 40 || len(result.Histogram) != 40 {
		t.Fatalf("expected all series aligned to input length 40, got %d/%d/%d",
			len(result.Dif), len(result.Dea), len(result.Histogram))
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	prices := constantSeries(t, "10", 14)
	if got := RSI(prices, 14); len(got) != 0 {
		t.Fatalf("expected empty line for n < period+1, got len=%d", len(got))
	}
}

func TestRSI_AllGainsIs100(t *testing.T) {
	prices := seriesOf(t,
		"10", "11", "12", "13", "14", "15", "16", "17",
		"18", "19", "20", "21", "22", "23", "24", "25",
	)
	line := RSI(prices, 14)
	for i := 14; i < prices.Len(); i++ {
		got, ok := line.At(i)
		if !ok {
			t.Fatalf("expected value at index %d", i)
		}
		if !got.Equal(decimal.NewFromInt(100)) {
			t.Errorf("rsi[%d] = %s, want 100 when avgLoss == 0", i, got)
		}
	}
	for i := 0; i < 14; i++ {
		if _, ok := line.At(i); ok {
			t.Errorf("expected absence at index %d before seed window completes", i)
		}
	}
}

func TestRSI_AllLossesIsZero(t *testing.T) {
	prices := seriesOf(t,
		"25", "24", "23", "22", "21", "20", "19", "18",
		"17", "16", "15", "14", "13", "12", "11", "10",
	)
	line := RSI(prices, 14)
	got, ok := line.Last()
	if !ok {
		t.Fatal("expected defined last value")
	}
	if !got.IsZero() {
		t.Errorf("rsi = %s, want 0 for monotonic decline", got)
	}
}

func TestRSI_WithinBounds(t *testing.T) {
	prices := seriesOf(t,
		"30.0", "30.5", "29.8", "31.2", "30.9", "31.6", "30.4", "32.0",
		"31.1", "32.4", "31.8", "33.0", "32.2", "33.5", "32.8", "34.1",
		"33.2", "34.6", "33.9", "35.0",
	)
	line := RSI(prices, DefaultRSIPeriod)
	hundred := decimal.NewFromInt(100)
	for i := range line {
		got, ok := line.At(i)
		if !ok {
			continue
		}
		if got.IsNegative() || got.GreaterThan(hundred) {
			t.Errorf("rsi[%d] = %s, out of [0,100]", i, got)
		}
	}
}

func TestBollingerBands_ConstantSeriesCollapses(t *testing.T) {
	prices := constantSeries(t, "42.42", 25)
	bands := BollingerBands(prices, DefaultBollPeriod, DefaultBollMult)

	for i := 19; i < 25; i++ {
		mid, okMid := bands.Middle.At(i)
		up, okUp := bands.Upper.At(i)
		low, okLow := bands.Lower.At(i)
		if !okMid || !okUp || !okLow {
			t.Fatalf("expected defined bands at index %d", i)
		}
		if !up.Equal(mid) || !low.Equal(mid) {
			t.Errorf("constant series should collapse bands at %d: upper=%s middle=%s lower=%s", i, up, mid, low)
		}
	}
}

func TestBollingerBands_AbsenceFollowsSMA(t *testing.T) {
	prices := seriesOf(t, "10", "11", "12", "13", "14", "16", "15")
	bands := BollingerBands(prices, 5, 2.0)

	for i := 0; i < 4; i++ {
		if _, ok := bands.Upper.At(i); ok {
			t.Errorf("expected absent upper band at index %d", i)
		}
		if _, ok := bands.Lower.At(i); ok {
			t.Errorf("expected absent lower band at index %d", i)
		}
	}

	mid, _ := bands.Middle.At(6)
	up, _ := bands.Upper.At(6)
	low, _ := bands.Lower.At(6)
	if !up.GreaterThan(mid) || !low.LessThan(mid) {
		t.Errorf("expected upper > middle > lower, got %s / %s / %s", up, mid, low)
	}
	if !up.Sub(mid).Equal(mid.Sub(low)) {
		t.Errorf("bands not symmetric around middle: %s vs %s", up.Sub(mid), mid.Sub(low))
	}
}

func TestBollingerBands_InsufficientData(t *testing.T) {
	prices := seriesOf(t, "10", "11")
	bands := BollingerBands(prices, 20, 2.0)
	if len(bands.Middle) != 0 || len(bands.Upper) != 0 || len(bands.Lower) != 0 {
		t.Fatal("expected empty bands for short input")
	}
}
