// internal/backtest/simulator.go
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crypto-phase-trading-bot/internal/executor"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// SimConfig - параметры симулятора исполнения
type SimConfig struct {
	InitialEquity float64 // стартовый капитал, USD
	RiskPerTrade  float64 // доля капитала под риском на сделку
	TakerFeeRate  float64 // комиссия тейкера на одну ногу, доля
}

// EquityPoint - точка кривой капитала
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Simulator - исполнитель бэктеста, реализует тот же интерфейс, что и
// живой исполнитель, так что пайплайн не отличает реплей от боевого
// режима. Исполнение идеализировано: заявки исполняются по запрошенной
// цене без проскальзывания, комиссия тейкера берется на обеих ногах.
// Идентификаторы сделок детерминированы - два прогона одной истории
// дают побайтно одинаковый отчет.
type Simulator struct {
	cfg SimConfig

	equity    float64
	positions map[types.Symbol]types.TradePosition
	entryFees map[types.Symbol]float64
	trades    []types.ClosedTrade
	curve     []EquityPoint
	seq       int
}

// NewSimulator создает симулятор со стартовым капиталом
func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{
		cfg:       cfg,
		equity:    cfg.InitialEquity,
		positions: make(map[types.Symbol]types.TradePosition),
		entryFees: make(map[types.Symbol]float64),
	}
}

// Bootstrap у симулятора пустой - реплей всегда начинается без позиций
func (s *Simulator) Bootstrap(ctx context.Context) error { return nil }

// SyncSymbol у симулятора пустой - расходиться не с чем
func (s *Simulator) SyncSymbol(ctx context.Context, symbol types.Symbol) error { return nil }

func (s *Simulator) HasExposure(symbol types.Symbol) bool {
	_, ok := s.positions[symbol]
	return ok
}

func (s *Simulator) Position(symbol types.Symbol) (types.TradePosition, bool) {
	p, ok := s.positions[symbol]
	return p, ok
}

// Equity возвращает текущий капитал
func (s *Simulator) Equity() float64 { return s.equity }

// Trades возвращает все завершенные сделки в порядке закрытия
func (s *Simulator) Trades() []types.ClosedTrade { return s.trades }

// EquityCurve возвращает кривую капитала, точка на каждое закрытие
func (s *Simulator) EquityCurve() []EquityPoint { return s.curve }

// Open исполняет открытие по запрошенной цене. Сайзинг тот же, что у
// живого исполнителя: от риска на сделку и дистанции стопа.
func (s *Simulator) Open(ctx context.Context, req executor.OpenRequest) (types.TradePosition, error) {
	if _, ok := s.positions[req.Symbol]; ok {
		return types.TradePosition{}, fmt.Errorf("Simulator.Open: позиция по %s уже открыта", req.Symbol)
	}

	qty, ok := executor.SizeQty(s.equity, s.cfg.RiskPerTrade, req.Price, req.StopLoss)
	if !ok {
		return types.TradePosition{}, fmt.Errorf("Simulator.Open: невалидная дистанция стопа %s (entry=%.4f stop=%.4f)",
			req.Symbol, req.Price, req.StopLoss)
	}

	s.seq++
	pos := types.TradePosition{
		ID:         fmt.Sprintf("sim-%06d", s.seq),
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Qty:        qty,
		EntryTime:  req.Now,
		EntryMeta:  req.Meta,
	}

	s.positions[req.Symbol] = pos
	s.entryFees[req.Symbol] = qty * req.Price * s.cfg.TakerFeeRate

	logger.Trade(string(req.Symbol), string(req.Side), "open", req.Price, 0)
	return pos, nil
}

// Close исполняет закрытие по запрошенной цене и списывает комиссии
// обеих ног
func (s *Simulator) Close(ctx context.Context, symbol types.Symbol, price float64, now time.Time, reason types.CloseReason) (types.ClosedTrade, error) {
	pos, ok := s.positions[symbol]
	if !ok {
		return types.ClosedTrade{}, executor.ErrNoPosition
	}
	return s.settle(pos, price, now, reason), nil
}

// CheckIntrabar проверяет касание стопа или тейка внутри свечи и
// закрывает позицию по уровню. Когда свеча накрывает оба уровня,
// порядок касаний неизвестен - консервативно считаем, что стоп
// сработал первым.
func (s *Simulator) CheckIntrabar(symbol types.Symbol, c types.Candle, now time.Time) (types.ClosedTrade, bool) {
	pos, ok := s.positions[symbol]
	if !ok {
		return types.ClosedTrade{}, false
	}

	switch pos.Side {
	case types.SideLong:
		if pos.StopLoss > 0 && c.Low <= pos.StopLoss {
			return s.settle(pos, pos.StopLoss, now, types.CloseStopLoss), true
		}
		if pos.TakeProfit > 0 && c.High >= pos.TakeProfit {
			return s.settle(pos, pos.TakeProfit, now, types.CloseTakeProfitWeak), true
		}
	case types.SideShort:
		if pos.StopLoss > 0 && c.High >= pos.StopLoss {
			return s.settle(pos, pos.StopLoss, now, types.CloseStopLoss), true
		}
		if pos.TakeProfit > 0 && c.Low <= pos.TakeProfit {
			return s.settle(pos, pos.TakeProfit, now, types.CloseTakeProfitWeak), true
		}
	}
	return types.ClosedTrade{}, false
}

// ForceCloseAll принудительно закрывает все позиции по последним
// известным ценам в конце реплея. Обход по отсортированным символам,
// порядок сделок детерминирован.
func (s *Simulator) ForceCloseAll(prices map[types.Symbol]float64, now time.Time) []types.ClosedTrade {
	symbols := make([]types.Symbol, 0, len(s.positions))
	for sym := range s.positions {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })

	closed := make([]types.ClosedTrade, 0, len(symbols))
	for _, sym := range symbols {
		pos := s.positions[sym]
		price, ok := prices[sym]
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		closed = append(closed, s.settle(pos, price, now, types.CloseForcedEnd))
	}
	return closed
}

// settle считает PnL и комиссии, двигает капитал и кривую
func (s *Simulator) settle(pos types.TradePosition, price float64, now time.Time, reason types.CloseReason) types.ClosedTrade {
	delete(s.positions, pos.Symbol)
	entryFee := s.entryFees[pos.Symbol]
	delete(s.entryFees, pos.Symbol)

	gross := (price - pos.EntryPrice) * pos.Qty
	if pos.Side == types.SideShort {
		gross = -gross
	}
	fees := entryFee + pos.Qty*price*s.cfg.TakerFeeRate

	trade := types.ClosedTrade{
		TradePosition: pos,
		ExitPrice:     price,
		ExitTime:      now,
		PnLGross:      gross,
		Fees:          fees,
		PnLNet:        gross - fees,
		Reason:        reason,
	}

	s.equity += trade.PnLNet
	s.trades = append(s.trades, trade)
	s.curve = append(s.curve, EquityPoint{Time: now, Equity: s.equity})

	logger.Trade(string(pos.Symbol), string(pos.Side), "close/"+string(reason), price, pos.PnLPercent(price))
	return trade
}
