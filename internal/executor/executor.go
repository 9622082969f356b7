// internal/executor/executor.go
package executor

import (
	"context"
	"time"

	"crypto-phase-trading-bot/internal/types"
)

// OpenRequest - запрос на открытие позиции от машины состояний
type OpenRequest struct {
	Symbol     types.Symbol
	Side       types.Side
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Meta       types.ScoreSnapshot
	Now        time.Time
}

// Executor - исполнитель позиций. Машина состояний только запрашивает
// открытие и закрытие, позицией владеет исполнитель. Живой исполнитель
// ходит на биржу, симулятор бэктеста реализует тот же интерфейс.
type Executor interface {
	// Bootstrap восстанавливает открытые позиции из биржевой истины
	// при старте: локальному состоянию после рестарта не доверяем
	Bootstrap(ctx context.Context) error

	// HasExposure сообщает, есть ли открытая позиция по символу
	HasExposure(symbol types.Symbol) bool

	// Position возвращает открытую позицию, если есть
	Position(symbol types.Symbol) (types.TradePosition, bool)

	// Open открывает позицию. Несработавший захват входной блокировки -
	// не ошибка, а нормальный пропуск попытки (ErrEntryBusy)
	Open(ctx context.Context, req OpenRequest) (types.TradePosition, error)

	// Close закрывает позицию по текущей цене с указанной причиной
	Close(ctx context.Context, symbol types.Symbol, price float64, now time.Time, reason types.CloseReason) (types.ClosedTrade, error)

	// SyncSymbol сверяет локальную позицию с биржей и чинит расхождение
	SyncSymbol(ctx context.Context, symbol types.Symbol) error
}

// SizeQty считает размер позиции от риска на сделку и дистанции стопа:
// qty = equity * riskPerTrade / |entry - stop|.
// Невалидная дистанция стопа отклоняется - нулевой или отрицательный
// риск не торгуем.
func SizeQty(equity, riskPerTrade, entry, stop float64) (float64, bool) {
	if equity <= 0 || riskPerTrade <= 0 || entry <= 0 {
		return 0, false
	}
	dist := entry - stop
	if dist < 0 {
		dist = -dist
	}
	if dist <= 0 {
		return 0, false
	}
	return equity * riskPerTrade / dist, true
}

// StopLevels считает уровни стопа и тейка от цены входа:
// стоп - max(волатильностная дистанция, пол), тейк - фиксированный процент
func StopLevels(entry float64, side types.Side, atrPct, stopATRMult, stopFloorPct, takeProfitPct float64) (stop, take float64) {
	stopPct := atrPct * stopATRMult
	if stopPct < stopFloorPct {
		stopPct = stopFloorPct
	}

	switch side {
	case types.SideLong:
		stop = entry * (1 - stopPct/100)
		take = entry * (1 + takeProfitPct/100)
	case types.SideShort:
		stop = entry * (1 + stopPct/100)
		take = entry * (1 - takeProfitPct/100)
	}
	return stop, take
}
