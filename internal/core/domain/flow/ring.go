// internal/core/domain/flow/ring.go
package flow

import (
	"time"

	"crypto-phase-trading-bot/internal/types"
)

// Ring - кольцевой буфер последних снапшотов рынка одного символа.
// Снапшоты строго упорядочены по времени, дубликаты по метке времени
// отфильтровываются, не добавляются.
type Ring struct {
	capacity int
	snaps    []types.MarketSnapshot
}

// NewRing создает буфер заданной емкости
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 120
	}
	return &Ring{
		capacity: capacity,
		snaps:    make([]types.MarketSnapshot, 0, capacity),
	}
}

// Add добавляет снапшот, вытесняя самый старый при переполнении.
// Снапшот не новее последнего игнорируется.
func (r *Ring) Add(s types.MarketSnapshot) bool {
	if n := len(r.snaps); n > 0 && !s.Timestamp.After(r.snaps[n-1].Timestamp) {
		return false
	}

	r.snaps = append(r.snaps, s)
	if len(r.snaps) > r.capacity {
		r.snaps = r.snaps[1:]
	}
	return true
}

// Len возвращает число снапшотов в буфере
func (r *Ring) Len() int {
	return len(r.snaps)
}

// Last возвращает последний снапшот
func (r *Ring) Last() (types.MarketSnapshot, bool) {
	if len(r.snaps) == 0 {
		return types.MarketSnapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

// Clear очищает буфер (начало нового прогона)
func (r *Ring) Clear() {
	r.snaps = r.snaps[:0]
}

// WindowDeltas - дельты по окну из N снапшотов назад
type WindowDeltas struct {
	PriceChangePct float64       // изменение цены от базы окна, %
	OIChangePct    float64       // изменение OI от базы окна, %
	FlowSum        float64       // накопленный поток (CVD) по окну
	Span           time.Duration // фактический охват окна по времени
	Samples        int           // снапшотов в окне
	Valid          bool          // false, если истории меньше окна
}

// Deltas считает дельты за окно window снапшотов назад от последнего.
// При нехватке истории возвращает Valid=false - компонент "не готов",
// без принудительных значений по умолчанию.
func (r *Ring) Deltas(window int) WindowDeltas {
	n := len(r.snaps)
	if window <= 0 || n < window+1 {
		return WindowDeltas{}
	}

	last := r.snaps[n-1]
	base := r.snaps[n-1-window]

	d := WindowDeltas{
		Span:    last.Timestamp.Sub(base.Timestamp),
		Samples: window + 1,
		Valid:   true,
	}

	if base.Price > 0 {
		d.PriceChangePct = ((last.Price - base.Price) / base.Price) * 100
	}
	if base.OpenInterest > 0 {
		d.OIChangePct = ((last.OpenInterest - base.OpenInterest) / base.OpenInterest) * 100
	}

	for _, s := range r.snaps[n-window:] {
		d.FlowSum += s.CVDShort
	}

	return d
}
