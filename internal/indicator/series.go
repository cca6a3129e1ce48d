package indicator

import "math"

// Series functions return a slice aligned with the input; positions without
// enough history hold NaN.

func smaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := nanSlice(len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func rsiSeries(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nil
	}
	series := nanSlice(len(closes))

	var gainSum float64
	var lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	series[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series[i] = rsiFromAvg(avgGain, avgLoss)
	}

	return series
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macdSeries(values []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	fastEMA := emaSeries(values, fast)
	slowEMA := emaSeries(values, slow)
	macdLine = make([]float64, len(values))
	for i := range values {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = emaSeries(macdLine, signal)
	return macdLine, signalLine
}

func bollingerSeries(closes []float64, period int, stdDevs float64) (upper, middle, lower []float64) {
	if len(closes) < period {
		return nil, nil, nil
	}
	upper = nanSlice(len(closes))
	middle = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	for i := period - 1; i < len(closes); i++ {
		mean, std := meanStd(closes[i-period+1 : i+1])
		middle[i] = mean
		upper[i] = mean + stdDevs*std
		lower[i] = mean - stdDevs*std
	}
	return upper, middle, lower
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) == 1 {
		return mean, 0
	}
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
