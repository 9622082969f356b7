// internal/executor/live.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

var (
	// ErrEntryBusy - вход по символу уже выполняется, попытка пропускается
	ErrEntryBusy = errors.New("entry already in progress")
	// ErrOpenTimeout - биржа не подтвердила позицию за отведенное время
	ErrOpenTimeout = errors.New("open intent timed out")
	// ErrNoPosition - закрывать нечего
	ErrNoPosition = errors.New("no open position")
)

// ExchangePosition - позиция по версии биржи
type ExchangePosition struct {
	Symbol     types.Symbol
	Side       types.Side
	Qty        float64
	EntryPrice float64
}

// ExchangeGateway - узкий интерфейс биржевого API для исполнителя
type ExchangeGateway interface {
	PlaceMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty float64) (orderID string, err error)
	ClosePosition(ctx context.Context, symbol types.Symbol, side types.Side, qty float64) error
	FetchPosition(ctx context.Context, symbol types.Symbol) (ExchangePosition, bool, error)
	FetchOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	WalletBalance(ctx context.Context) (float64, error)
}

// LiveConfig - параметры живого исполнителя
type LiveConfig struct {
	RiskPerTrade float64       // доля капитала под риском на сделку
	TakerFeeRate float64       // комиссия тейкера на одну ногу, доля
	OpenTimeout  time.Duration // ожидание подтверждения открытия
	PollInterval time.Duration // шаг опроса биржи при подтверждении
}

// Live - живой исполнитель поверх биржевого API. Входной путь по
// каждому символу взаимно исключающий: вторая попытка открытия,
// пока первая ждет подтверждения биржи, пропускается, не гонится.
type Live struct {
	gateway ExchangeGateway
	cfg     LiveConfig

	mu        sync.RWMutex
	positions map[types.Symbol]types.TradePosition

	lockMu     sync.Mutex
	entryLocks map[types.Symbol]*sync.Mutex
}

// NewLive создает живого исполнителя
func NewLive(gateway ExchangeGateway, cfg LiveConfig) *Live {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Live{
		gateway:    gateway,
		cfg:        cfg,
		positions:  make(map[types.Symbol]types.TradePosition),
		entryLocks: make(map[types.Symbol]*sync.Mutex),
	}
}

// Bootstrap подтягивает открытые позиции с биржи: после рестарта
// локальному состоянию не доверяем, истина на бирже
func (l *Live) Bootstrap(ctx context.Context) error {
	open, err := l.gateway.FetchOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("Live.Bootstrap: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range open {
		l.positions[p.Symbol] = types.TradePosition{
			ID:         uuid.New().String(),
			Symbol:     p.Symbol,
			Side:       p.Side,
			EntryPrice: p.EntryPrice,
			Qty:        p.Qty,
			EntryTime:  time.Now(),
		}
		logger.Info("🔄 Восстановлена позиция %s %s qty=%.6f @ %.4f", p.Symbol, p.Side, p.Qty, p.EntryPrice)
	}
	return nil
}

func (l *Live) HasExposure(symbol types.Symbol) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

func (l *Live) Position(symbol types.Symbol) (types.TradePosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Open открывает позицию: блокировка входа, сайзинг от риска,
// рыночный ордер, ожидание подтверждения биржей. Несработавший
// TryLock - пропуск попытки, не ошибка гонки.
func (l *Live) Open(ctx context.Context, req OpenRequest) (types.TradePosition, error) {
	lock := l.entryLock(req.Symbol)
	if !lock.TryLock() {
		return types.TradePosition{}, ErrEntryBusy
	}
	defer lock.Unlock()

	if l.HasExposure(req.Symbol) {
		return types.TradePosition{}, fmt.Errorf("Live.Open: позиция по %s уже открыта", req.Symbol)
	}

	equity, err := l.gateway.WalletBalance(ctx)
	if err != nil {
		return types.TradePosition{}, fmt.Errorf("Live.Open: %w", err)
	}

	qty, ok := SizeQty(equity, l.cfg.RiskPerTrade, req.Price, req.StopLoss)
	if !ok {
		return types.TradePosition{}, fmt.Errorf("Live.Open: невалидная дистанция стопа %s (entry=%.4f stop=%.4f)",
			req.Symbol, req.Price, req.StopLoss)
	}

	if _, err := l.gateway.PlaceMarketOrder(ctx, req.Symbol, req.Side, qty); err != nil {
		return types.TradePosition{}, fmt.Errorf("Live.Open: %w", err)
	}

	confirmed, err := l.awaitPosition(ctx, req.Symbol)
	if err != nil {
		return types.TradePosition{}, fmt.Errorf("Live.Open: %w", err)
	}

	pos := types.TradePosition{
		ID:         uuid.New().String(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: confirmed.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Qty:        confirmed.Qty,
		EntryTime:  req.Now,
		EntryMeta:  req.Meta,
	}

	l.mu.Lock()
	l.positions[req.Symbol] = pos
	l.mu.Unlock()

	logger.Trade(string(req.Symbol), string(req.Side), "open", pos.EntryPrice, 0)
	return pos, nil
}

// awaitPosition опрашивает биржу до подтверждения позиции. Истекший
// таймаут возвращает ErrOpenTimeout - висящий интент отменяется
// вызывающей стороной, не остается навсегда в ожидании.
func (l *Live) awaitPosition(ctx context.Context, symbol types.Symbol) (ExchangePosition, error) {
	deadline := time.Now().Add(l.cfg.OpenTimeout)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p, ok, err := l.gateway.FetchPosition(ctx, symbol)
		if err == nil && ok && p.Qty > 0 {
			return p, nil
		}
		if err != nil {
			logger.Warn("⚠️ Live.awaitPosition %s: %v", symbol, err)
		}
		if time.Now().After(deadline) {
			return ExchangePosition{}, ErrOpenTimeout
		}

		select {
		case <-ctx.Done():
			return ExchangePosition{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close закрывает позицию reduce-only ордером
func (l *Live) Close(ctx context.Context, symbol types.Symbol, price float64, now time.Time, reason types.CloseReason) (types.ClosedTrade, error) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return types.ClosedTrade{}, ErrNoPosition
	}
	l.mu.Unlock()

	if err := l.gateway.ClosePosition(ctx, symbol, pos.Side, pos.Qty); err != nil {
		return types.ClosedTrade{}, fmt.Errorf("Live.Close: %w", err)
	}

	l.mu.Lock()
	delete(l.positions, symbol)
	l.mu.Unlock()

	trade := types.ClosedTrade{
		TradePosition: pos,
		ExitPrice:     price,
		ExitTime:      now,
		Reason:        reason,
	}
	trade.PnLGross = pos.PnLPercent(price) / 100 * pos.Notional(pos.EntryPrice)
	// Тейкерская комиссия на обе ноги: вход по цене входа, выход по цене выхода
	trade.Fees = pos.Qty*pos.EntryPrice*l.cfg.TakerFeeRate + pos.Qty*price*l.cfg.TakerFeeRate
	trade.PnLNet = trade.PnLGross - trade.Fees

	logger.Trade(string(symbol), string(pos.Side), "close/"+string(reason), price, pos.PnLPercent(price))
	return trade, nil
}

// SyncSymbol сверяет локальную позицию с биржевой истиной. Расхождение
// чинится в сторону биржи: лишняя локальная запись удаляется,
// неизвестная биржевая позиция подхватывается.
func (l *Live) SyncSymbol(ctx context.Context, symbol types.Symbol) error {
	remote, exists, err := l.gateway.FetchPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("Live.SyncSymbol: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, local := l.positions[symbol]

	switch {
	case local && !exists:
		logger.Warn("⚠️ Позиция %s закрыта на бирже, убираем локальную", symbol)
		delete(l.positions, symbol)
	case !local && exists && remote.Qty > 0:
		logger.Warn("⚠️ На бирже найдена неизвестная позиция %s %s, подхватываем", symbol, remote.Side)
		l.positions[symbol] = types.TradePosition{
			ID:         uuid.New().String(),
			Symbol:     symbol,
			Side:       remote.Side,
			EntryPrice: remote.EntryPrice,
			Qty:        remote.Qty,
			EntryTime:  time.Now(),
		}
	}
	return nil
}

func (l *Live) entryLock(symbol types.Symbol) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	if _, ok := l.entryLocks[symbol]; !ok {
		l.entryLocks[symbol] = &sync.Mutex{}
	}
	return l.entryLocks[symbol]
}
