// Package indicator computes technical analysis from OHLCV frames: moving
// averages, RSI, MACD, Bollinger bands, volume baseline, pivot and
// Fibonacci levels, plus human-readable signal lines.
package indicator

import (
	"fmt"
	"math"

	"finbot/internal/domain"
)

const (
	rsiPeriod        = 14
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
	bollingerPeriod  = 20
	bollingerStdDevs = 2.0
	volumeWindow     = 20
	fibLookback      = 90
	historyLen       = 30
)

var smaPeriods = []int{20, 50, 200}
var emaPeriods = []int{12, 26}

// Compute derives the full technical-analysis payload from a frame. Series
// whose window exceeds the available bars are omitted rather than padded;
// an empty frame yields a nil result.
func Compute(symbol string, frame *domain.Frame) *domain.TechnicalAnalysis {
	if frame == nil || frame.Len() == 0 {
		return nil
	}

	closes := frame.Column(domain.ColClose)
	highs := frame.Column(domain.ColHigh)
	lows := frame.Column(domain.ColLow)
	volumes := frame.Column(domain.ColVolume)
	last := frame.Len() - 1
	lastTS := frame.Index[last]

	ta := &domain.TechnicalAnalysis{
		Symbol:  domain.NormalizeSymbol(symbol),
		Latest:  domain.LatestIndicators{},
		History: map[string][]*float64{},
	}

	record := func(name string, series []float64) {
		if series == nil {
			return
		}
		if v := series[last]; !math.IsNaN(v) {
			ta.Latest[name] = domain.IndicatorValue{Value: v, Timestamp: lastTS}
		}
	}
	history := func(name string, series []float64) {
		if series == nil {
			return
		}
		start := len(series) - historyLen
		if start < 0 {
			start = 0
		}
		tail := series[start:]
		out := make([]*float64, len(tail))
		for i, v := range tail {
			if !math.IsNaN(v) {
				vv := v
				out[i] = &vv
			}
		}
		ta.History[name] = out
	}

	for _, p := range smaPeriods {
		record(fmt.Sprintf("sma_%d", p), smaSeries(closes, p))
	}
	for _, p := range emaPeriods {
		record(fmt.Sprintf("ema_%d", p), emaSeries(closes, p))
	}

	rsi := rsiSeries(closes, rsiPeriod)
	record("rsi_14", rsi)
	history("rsi_14", rsi)

	var macdLine, signalLine []float64
	if len(closes) >= macdSlowPeriod+macdSignalPeriod {
		macdLine, signalLine = macdSeries(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
		record("macd", macdLine)
		record("macd_signal", signalLine)
		if !math.IsNaN(macdLine[last]) && !math.IsNaN(signalLine[last]) {
			ta.Latest["macd_hist"] = domain.IndicatorValue{
				Value:     macdLine[last] - signalLine[last],
				Timestamp: lastTS,
			}
		}
		history("macd", macdLine)
		history("macd_signal", signalLine)
	}

	upper, middle, lower := bollingerSeries(closes, bollingerPeriod, bollingerStdDevs)
	record("bb_upper", upper)
	record("bb_middle", middle)
	record("bb_lower", lower)

	record("volume_sma_20", smaSeries(volumes, volumeWindow))
	history("close", closes)

	// Levels need a completed bar.
	ta.Pivots = pivotPoints(highs[last], lows[last], closes[last])
	fibStart := len(highs) - fibLookback
	if fibStart < 0 {
		fibStart = 0
	}
	ta.Fibonacci = fibonacciLevels(highs[fibStart:], lows[fibStart:])

	ta.Signals = signals(ta, closes, macdLine, signalLine, last)
	if len(ta.Latest) == 0 {
		ta.Note = "insufficient history for indicator windows"
	}
	return ta
}

// signals renders the crossings and extremes a reader scans for first.
func signals(ta *domain.TechnicalAnalysis, closes, macdLine, signalLine []float64, last int) []string {
	var out []string
	price := closes[last]

	if rsi, ok := ta.Latest["rsi_14"]; ok {
		switch {
		case rsi.Value <= 30:
			out = append(out, fmt.Sprintf("RSI %.1f: oversold", rsi.Value))
		case rsi.Value >= 70:
			out = append(out, fmt.Sprintf("RSI %.1f: overbought", rsi.Value))
		}
	}

	if len(macdLine) >= 2 && len(signalLine) >= 2 {
		prevDelta := macdLine[last-1] - signalLine[last-1]
		currDelta := macdLine[last] - signalLine[last]
		if !math.IsNaN(prevDelta) && !math.IsNaN(currDelta) {
			if prevDelta <= 0 && currDelta > 0 {
				out = append(out, "MACD bullish crossover")
			} else if prevDelta >= 0 && currDelta < 0 {
				out = append(out, "MACD bearish crossover")
			}
		}
	}

	if sma, ok := ta.Latest["sma_200"]; ok && sma.Value != 0 {
		if price > sma.Value {
			out = append(out, "price above 200-day SMA")
		} else if price < sma.Value {
			out = append(out, "price below 200-day SMA")
		}
	}

	if upper, ok := ta.Latest["bb_upper"]; ok {
		if lower, ok2 := ta.Latest["bb_lower"]; ok2 {
			if price > upper.Value {
				out = append(out, "close above upper Bollinger band")
			} else if price < lower.Value {
				out = append(out, "close below lower Bollinger band")
			}
		}
	}

	return out
}
