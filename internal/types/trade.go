// internal/types/trade.go
package types

import "time"

// CloseReason - фиксированная таксономия причин закрытия позиции.
// Одинаково используется в живых алертах и статистике бэктеста.
type CloseReason string

const (
	CloseStopLoss       CloseReason = "stop-loss"
	CloseTakeProfitWeak CloseReason = "take-profit-weak-signal"
	CloseStructure      CloseReason = "structure-reversal"
	CloseFunding        CloseReason = "funding"
	CloseFlowReversal   CloseReason = "flow-reversal"
	CloseTimeout        CloseReason = "timeout"
	CloseBlowoff        CloseReason = "blow-off"
	CloseForcedEnd      CloseReason = "forced-end-of-replay"
)

// IsValidCloseReason проверяет принадлежность причины к таксономии
func IsValidCloseReason(r CloseReason) bool {
	switch r {
	case CloseStopLoss, CloseTakeProfitWeak, CloseStructure, CloseFunding,
		CloseFlowReversal, CloseTimeout, CloseBlowoff, CloseForcedEnd:
		return true
	}
	return false
}

// ScoreSnapshot - снимок оценки входа на момент открытия позиции
type ScoreSnapshot struct {
	LongScore  float64            `json:"long_score"`
	ShortScore float64            `json:"short_score"`
	Phase      Phase              `json:"phase"`
	Factors    map[string]float64 `json:"factors,omitempty"` // вклад каждого фактора
}

// TradePosition - открытая позиция. Владеет ей только исполнитель
// (живой или симулятор), FSM лишь запрашивает открытие/закрытие.
type TradePosition struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Side       Side          `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Qty        float64       `json:"qty"`
	EntryTime  time.Time     `json:"entry_time"`
	EntryMeta  ScoreSnapshot `json:"entry_meta"`
}

// PnLPercent возвращает текущий PnL позиции в процентах от цены входа
func (p *TradePosition) PnLPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	change := ((price - p.EntryPrice) / p.EntryPrice) * 100
	if p.Side == SideShort {
		return -change
	}
	return change
}

// Notional возвращает номинал позиции по заданной цене
func (p *TradePosition) Notional(price float64) float64 {
	return p.Qty * price
}

// ClosedTrade - завершённая сделка. Запись только добавляется,
// создаётся исполнителем при закрытии.
type ClosedTrade struct {
	TradePosition
	ExitPrice float64     `json:"exit_price"`
	ExitTime  time.Time   `json:"exit_time"`
	PnLGross  float64     `json:"pnl_gross"`
	Fees      float64     `json:"fees"`
	PnLNet    float64     `json:"pnl_net"`
	Reason    CloseReason `json:"reason"`
}

// FSMAction - действие, предпринятое машиной состояний на тике
type FSMAction string

const (
	ActionNone      FSMAction = "none"
	ActionSetup     FSMAction = "setup"
	ActionCancel    FSMAction = "cancel"
	ActionOpen      FSMAction = "open"
	ActionExit      FSMAction = "exit"
	ActionCooldown  FSMAction = "cooldown"
	ActionSuspended FSMAction = "suspended"
)

// TickResult - результат прохода пайплайна по одному тику
type TickResult struct {
	Symbol    string    `json:"symbol"`
	Phase     Phase     `json:"phase"`
	Signal    Side      `json:"signal"`
	Action    FSMAction `json:"fsm_action"`
	AlertText string    `json:"alert_text,omitempty"`
}
