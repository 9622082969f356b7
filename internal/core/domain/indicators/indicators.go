// internal/core/domain/indicators/indicators.go
package indicators

// RSI считает индекс относительной силы по закрытиям со сглаживанием Уайлдера.
// Возвращает (значение, true) или (0, false) при нехватке истории.
func RSI(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// SMA считает простое среднее последних n значений.
// Возвращает (значение, true) или (0, false) при нехватке истории.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}

	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// TrendBias - глобальный тренд-фильтр по пересечению скользящих средних
type TrendBias int

const (
	BiasNeutral TrendBias = iota
	BiasBullish
	BiasBearish
)

func (b TrendBias) String() string {
	switch b {
	case BiasBullish:
		return "bullish"
	case BiasBearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// MACrossBias определяет глобальный тренд по положению быстрой MA
// относительно медленной. При нехватке истории - нейтрально.
func MACrossBias(closes []float64, fast, slow int) TrendBias {
	fastMA, okFast := SMA(closes, fast)
	slowMA, okSlow := SMA(closes, slow)
	if !okFast || !okSlow {
		return BiasNeutral
	}

	if fastMA > slowMA {
		return BiasBullish
	}
	if fastMA < slowMA {
		return BiasBearish
	}
	return BiasNeutral
}
