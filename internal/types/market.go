// internal/types/market.go
package types

import "time"

// Symbol - торговая пара
type Symbol = string

// Side - направление позиции
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = ""
)

// Opposite возвращает противоположную сторону
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// Phase - фаза рынка
type Phase string

const (
	PhaseRange        Phase = "range"
	PhaseAccumulation Phase = "accumulation"
	PhaseTrend        Phase = "trend"
	PhaseDistribution Phase = "distribution"
	PhaseBlowoff      Phase = "blowoff"
)

// MarketSnapshot - моментальный срез рынка по символу
type MarketSnapshot struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Volume24h    float64   `json:"volume_24h"`
	OpenInterest float64   `json:"open_interest"`
	FundingRate  float64   `json:"funding_rate"`
	Timestamp    time.Time `json:"timestamp"`

	// CVD за короткое окно, если доступен поток сделок (0 если нет)
	CVDShort float64 `json:"cvd_short,omitempty"`

	// Объем, наторгованный с прошлого тика, если источник его знает
	// (0 если нет - тогда он выводится из дельты Volume24h)
	VolumeDelta float64 `json:"volume_delta,omitempty"`
}

// Candle - свеча OHLCV. Закрытая свеча неизменяема,
// текущая свеча мутабельна до закрытия бакета.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Period    string    `json:"period"` // "1m", "1h" и т.д.
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	StartTime time.Time `json:"start_time"` // начало бакета
	EndTime   time.Time `json:"end_time"`
	IsClosed  bool      `json:"is_closed"`
}

// ChangePercent возвращает процент изменения свечи
func (c *Candle) ChangePercent() float64 {
	if c.Open == 0 {
		return 0
	}
	return ((c.Close - c.Open) / c.Open) * 100
}

// Body возвращает размер тела свечи
func (c *Candle) Body() float64 {
	body := c.Close - c.Open
	if body < 0 {
		return -body
	}
	return body
}

// Range возвращает полный диапазон свечи
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// BodyRatio возвращает долю тела в диапазоне свечи [0..1].
// Для свечи без диапазона возвращает 0.
func (c *Candle) BodyRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return c.Body() / r
}

// IsBullish возвращает true для растущей свечи
func (c *Candle) IsBullish() bool {
	return c.Close > c.Open
}

// TrueRange возвращает истинный диапазон относительно предыдущего закрытия
func (c *Candle) TrueRange(prevClose float64) float64 {
	tr := c.High - c.Low
	if prevClose > 0 {
		if hc := abs(c.High - prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(c.Low - prevClose); lc > tr {
			tr = lc
		}
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
