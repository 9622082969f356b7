// internal/infrastructure/api/exchanges/bybit/ws/aggregator.go
package ws

import (
	"sync"
	"time"
)

// tradeEvent - один принт ленты в скользящем окне
type tradeEvent struct {
	deltaUSD  float64 // подписанный объем: покупка +, продажа -
	timestamp time.Time
}

// FlowAggregator накапливает подписанный объем сделок (CVD)
// в скользящем окне по каждому символу
type FlowAggregator struct {
	mu        sync.Mutex
	windows   map[string][]tradeEvent
	windowDur time.Duration
}

// NewFlowAggregator создает агрегатор с заданной шириной окна
func NewFlowAggregator(windowDur time.Duration) *FlowAggregator {
	return &FlowAggregator{
		windows:   make(map[string][]tradeEvent),
		windowDur: windowDur,
	}
}

// Add добавляет принт в окно символа
func (a *FlowAggregator) Add(symbol string, deltaUSD float64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windows[symbol] = append(a.windows[symbol], tradeEvent{deltaUSD: deltaUSD, timestamp: ts})
}

// Delta возвращает накопленную дельту объемов символа за окно.
// Старые события отсекаются на чтении.
func (a *FlowAggregator) Delta(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.windowDur)

	events := a.windows[symbol]
	if len(events) == 0 {
		return 0
	}

	firstValid := len(events)
	for i, ev := range events {
		if ev.timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	events = events[firstValid:]
	a.windows[symbol] = events

	var delta float64
	for _, ev := range events {
		delta += ev.deltaUSD
	}
	return delta
}

// Symbols возвращает символы, по которым есть данные
func (a *FlowAggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]string, 0, len(a.windows))
	for sym := range a.windows {
		result = append(result, sym)
	}
	return result
}
