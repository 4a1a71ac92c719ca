package features

import (
	"math"

	"SignalEngine/internal/domain/models"

	"github.com/markcheno/go-talib"
)

const (
	RSIPeriod  = 14
	ATRPeriod  = 14
	SMAPeriod  = 20
	EMAPeriod  = 20
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// Indicator keys written by Compute.
const (
	KeyRSI         = "rsi"
	KeySMA         = "sma_20"
	KeyEMA         = "ema_20"
	KeyMACDHist    = "macd_hist"
	KeyATR         = "atr"
	KeyVolumeRatio = "volume_ratio"
	KeyRealizedVol = "realized_vol"
)

// Series splits candles into OHLCV columns.
func Series(candles []models.Candle) (highs, lows, closes, volumes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	volumes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	return
}

// ATR returns the latest average true range. With fewer bars than the period it
// falls back to the mean high-low range of what is available.
func ATR(candles []models.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) > period {
		highs, lows, closes, _ := Series(candles)
		if v := last(talib.Atr(highs, lows, closes, period)); v > 0 {
			return v
		}
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.High - c.Low
	}
	return sum / float64(len(candles))
}

// RSI returns the latest relative strength index, ok=false with insufficient data.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) <= period {
		return 0, false
	}
	return valid(last(talib.Rsi(closes, period)))
}

// SMA returns the latest simple moving average.
func SMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	return valid(last(talib.Sma(closes, period)))
}

// EMA returns the latest exponential moving average.
func EMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	return valid(last(talib.Ema(closes, period)))
}

// MACDHist returns the latest MACD histogram value.
func MACDHist(closes []float64) (float64, bool) {
	if len(closes) < MACDSlow+MACDSignal {
		return 0, false
	}
	_, _, hist := talib.Macd(closes, MACDFast, MACDSlow, MACDSignal)
	v := last(hist)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// VolumeRatio compares the last bar volume with the mean of the preceding bars.
func VolumeRatio(volumes []float64) (float64, bool) {
	if len(volumes) < 2 {
		return 0, false
	}
	prev := volumes[:len(volumes)-1]
	sum := 0.0
	for _, v := range prev {
		sum += v
	}
	avg := sum / float64(len(prev))
	if avg <= 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg, true
}

// Compute derives the standard indicator set from candles. Missing values are omitted.
func Compute(candles []models.Candle) map[string]float64 {
	out := make(map[string]float64, 7)
	if len(candles) == 0 {
		return out
	}
	_, _, closes, volumes := Series(candles)

	if v, ok := RSI(closes, RSIPeriod); ok {
		out[KeyRSI] = v
	}
	if v, ok := SMA(closes, SMAPeriod); ok {
		out[KeySMA] = v
	}
	if v, ok := EMA(closes, EMAPeriod); ok {
		out[KeyEMA] = v
	}
	if v, ok := MACDHist(closes); ok {
		out[KeyMACDHist] = v
	}
	if v := ATR(candles, ATRPeriod); v > 0 {
		out[KeyATR] = v
	}
	if v, ok := VolumeRatio(volumes); ok {
		out[KeyVolumeRatio] = v
	}
	if rv := RealizedVolatility(ComputeLogReturns(candles), 20, 1); rv > 0 {
		out[KeyRealizedVol] = rv
	}
	return out
}

// Merge copies computed indicators into dst without overwriting supplied ones.
func Merge(dst, computed map[string]float64) map[string]float64 {
	if dst == nil {
		dst = make(map[string]float64, len(computed))
	}
	for k, v := range computed {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility returns the standard deviation of the last window returns,
// scaled by sqrt(barsPerYear).
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func valid(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Market regimes reported by Regime.
const (
	RegimeTrendingUp     = "trending_up"
	RegimeTrendingDown   = "trending_down"
	RegimeHighVolatility = "high_volatility"
	RegimeRanging        = "ranging"
)

// Regime classifies the market from price and indicators. ATR above 3% of
// price reads as high volatility; otherwise price against the SMA with a
// confirming MACD histogram reads as a trend.
func Regime(price float64, ind map[string]float64) string {
	if price <= 0 {
		return RegimeRanging
	}
	if atr, ok := ind[KeyATR]; ok && atr/price > 0.03 {
		return RegimeHighVolatility
	}
	sma, okSMA := ind[KeySMA]
	hist, okHist := ind[KeyMACDHist]
	if !okSMA {
		return RegimeRanging
	}
	switch {
	case price > sma && (!okHist || hist > 0):
		return RegimeTrendingUp
	case price < sma && (!okHist || hist < 0):
		return RegimeTrendingDown
	default:
		return RegimeRanging
	}
}
