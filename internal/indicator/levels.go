package indicator

import "finbot/internal/domain"

// pivotPoints computes standard pivot levels from the most recent completed
// bar: pivot = (high + low + close) / 3.
func pivotPoints(high, low, close float64) *domain.PivotLevels {
	pivot := (high + low + close) / 3
	return &domain.PivotLevels{
		Pivot: pivot,
		R1:    2*pivot - low,
		S1:    2*pivot - high,
		R2:    pivot + (high - low),
		S2:    pivot - (high - low),
		R3:    high + 2*(pivot-low),
		S3:    low - 2*(high-pivot),
	}
}

// fibonacciLevels computes retracement levels from the swing extremes of
// the lookback window. The trend direction follows which extreme came
// first: a low before the high reads as an uptrend.
func fibonacciLevels(highs, lows []float64) *domain.FibonacciLevels {
	if len(highs) == 0 || len(lows) == 0 {
		return nil
	}
	swingHigh, highIdx := highs[0], 0
	for i, h := range highs {
		if h > swingHigh {
			swingHigh, highIdx = h, i
		}
	}
	swingLow, lowIdx := lows[0], 0
	for i, l := range lows {
		if l < swingLow {
			swingLow, lowIdx = l, i
		}
	}
	if swingHigh == swingLow {
		return nil
	}

	isUptrend := lowIdx < highIdx
	diff := swingHigh - swingLow
	levels := &domain.FibonacciLevels{
		SwingHigh: swingHigh,
		SwingLow:  swingLow,
		IsUptrend: isUptrend,
	}
	if isUptrend {
		levels.Level236 = swingHigh - diff*0.236
		levels.Level382 = swingHigh - diff*0.382
		levels.Level500 = swingHigh - diff*0.500
		levels.Level618 = swingHigh - diff*0.618
		levels.Level786 = swingHigh - diff*0.786
	} else {
		levels.Level236 = swingLow + diff*0.236
		levels.Level382 = swingLow + diff*0.382
		levels.Level500 = swingLow + diff*0.500
		levels.Level618 = swingLow + diff*0.618
		levels.Level786 = swingLow + diff*0.786
	}
	return levels
}
