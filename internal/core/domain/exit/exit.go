// internal/core/domain/exit/exit.go
package exit

import (
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/types"
)

// Config - параметры движка выхода
type Config struct {
	StopATRMult      float64       // стоп = max(ATR% * множитель, пол)
	StopFloorPct     float64       // минимальный стоп в процентах
	TakeProfitPct    float64       // порог тейк-профита
	FundingExtreme   float64       // экстремальный фандинг против позиции
	FlowReversalMult float64       // множитель порога потока для разворота
	OpposingScoreBar float64       // планка противоположной оценки
	HoldCapRange     time.Duration // потолок удержания во флете
	HoldCapTrend     time.Duration // потолок удержания в тренде
	NegligiblePnLPct float64       // "незначительный" PnL для таймаута
	MicroProfitPct   float64       // верх полосы микро-профита
	WeakBodyRatio    float64       // слабое тело свечи, доля диапазона
}

// Inputs - состояние позиции и рынка на момент проверки
type Inputs struct {
	Position   types.TradePosition
	Price      float64
	Now        time.Time
	Phase      types.Phase
	Thresholds aggregator.Thresholds
	ATRPct     float64 // ATR в процентах от цены
	Funding    float64
	ShortFlow  float64      // поток короткого окна
	Candle     types.Candle // текущая свеча
	AvgVolume  float64
	LongScore  float64
	ShortScore float64
}

// Decision - решение движка выхода
type Decision struct {
	Exit   bool
	Reason types.CloseReason
}

var hold = Decision{}

// Decide проверяет условия выхода в порядке приоритета, каждое
// самодостаточно. Вызывается только при открытой позиции.
func Decide(in Inputs, cfg Config) Decision {
	pnl := in.Position.PnLPercent(in.Price)

	// 1. Блоу-офф с прибылью больше порога движения - забираем
	if in.Phase == types.PhaseBlowoff && pnl > in.Thresholds.MovePct {
		return Decision{true, types.CloseBlowoff}
	}

	// 2. Динамический стоп: max(волатильность, пол)
	if pnl <= -stopDistance(in, cfg) {
		return Decision{true, types.CloseStopLoss}
	}

	// 3. Экстремальный фандинг против стороны
	if fundingAgainst(in, cfg) {
		return Decision{true, types.CloseFunding}
	}

	// 4. Разворот потока с подтверждением свечой
	if flowReversal(in, cfg, pnl) {
		return Decision{true, types.CloseFlowReversal}
	}

	// 5. Тейк-профит при выдохшемся моментуме
	if pnl >= cfg.TakeProfitPct && momentumFaded(in, cfg) {
		return Decision{true, types.CloseTakeProfitWeak}
	}

	// 6. Противоположная оценка выше планки - структурный разворот
	if opposingScore(in) >= cfg.OpposingScoreBar {
		return Decision{true, types.CloseStructure}
	}

	// 7. Потолок удержания по фазе при незначительном PnL
	if holdCapExceeded(in, cfg, pnl) {
		return Decision{true, types.CloseTimeout}
	}

	return hold
}

// stopDistance - дистанция стопа: волатильностная, но не уже пола
func stopDistance(in Inputs, cfg Config) float64 {
	d := in.ATRPct * cfg.StopATRMult
	if d < cfg.StopFloorPct {
		d = cfg.StopFloorPct
	}
	return d
}

func fundingAgainst(in Inputs, cfg Config) bool {
	if cfg.FundingExtreme <= 0 {
		return false
	}
	switch in.Position.Side {
	case types.SideLong:
		return in.Funding >= cfg.FundingExtreme
	case types.SideShort:
		return in.Funding <= -cfg.FundingExtreme
	}
	return false
}

// flowReversal - поток против позиции за динамическим кратным порога,
// свеча подтверждает что это не шум. Полоса микро-профита глушит
// слабые развороты сразу за безубытком, чтобы не выбивало на шуме.
func flowReversal(in Inputs, cfg Config, pnl float64) bool {
	against := in.ShortFlow
	if in.Position.Side == types.SideLong {
		against = -against
	}
	if against < in.Thresholds.Flow*cfg.FlowReversalMult {
		return false
	}

	strongCandle := candleConfirms(in, cfg)

	// Микро-профит: маленький плюс и слабая свеча - держим
	if pnl > 0 && pnl <= cfg.MicroProfitPct && !strongCandle {
		return false
	}

	return strongCandle
}

// candleConfirms - тело свечи против позиции и не карликовое,
// объем не ниже среднего
func candleConfirms(in Inputs, cfg Config) bool {
	c := in.Candle
	if c.Range() <= 0 {
		return false
	}

	bodyAgainst := (in.Position.Side == types.SideLong && !c.IsBullish()) ||
		(in.Position.Side == types.SideShort && c.IsBullish())
	if !bodyAgainst {
		return false
	}
	if c.BodyRatio() < cfg.WeakBodyRatio {
		return false
	}
	if in.AvgVolume > 0 && c.Volume < in.AvgVolume {
		return false
	}
	return true
}

// momentumFaded - моментум выдохся: свеча без тела или оценка
// своей стороны просела ниже планки удержания
func momentumFaded(in Inputs, cfg Config) bool {
	if in.Candle.Range() > 0 && in.Candle.BodyRatio() < cfg.WeakBodyRatio {
		return true
	}
	own := in.LongScore
	if in.Position.Side == types.SideShort {
		own = in.ShortScore
	}
	return own < cfg.OpposingScoreBar/2
}

func opposingScore(in Inputs) float64 {
	if in.Position.Side == types.SideLong {
		return in.ShortScore
	}
	return in.LongScore
}

// holdCapExceeded - фазозависимый потолок: во флете держим меньше,
// в тренде дольше; срабатывает только при незначительном PnL
func holdCapExceeded(in Inputs, cfg Config, pnl float64) bool {
	held := in.Now.Sub(in.Position.EntryTime)

	limit := cfg.HoldCapRange
	if in.Phase == types.PhaseTrend {
		limit = cfg.HoldCapTrend
	}
	if limit <= 0 || held < limit {
		return false
	}

	return pnl > -cfg.NegligiblePnLPct && pnl < cfg.NegligiblePnLPct
}
