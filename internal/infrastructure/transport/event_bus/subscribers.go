// internal/infrastructure/transport/event_bus/subscribers.go
package events

import (
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// BaseSubscriber - базовая реализация подписчика
type BaseSubscriber struct {
	name             string
	subscribedEvents []types.EventType
	handler          func(types.Event) error
}

// NewBaseSubscriber создает нового подписчика
func NewBaseSubscriber(name string, events []types.EventType, handler func(types.Event) error) *BaseSubscriber {
	return &BaseSubscriber{
		name:             name,
		subscribedEvents: events,
		handler:          handler,
	}
}

// HandleEvent обрабатывает событие
func (s *BaseSubscriber) HandleEvent(event types.Event) error {
	return s.handler(event)
}

// GetName возвращает имя подписчика
func (s *BaseSubscriber) GetName() string {
	return s.name
}

// GetSubscribedEvents возвращает типы событий
func (s *BaseSubscriber) GetSubscribedEvents() []types.EventType {
	return s.subscribedEvents
}

// NewConsoleLoggerSubscriber создает подписчика, пишущего ключевые
// события в лог
func NewConsoleLoggerSubscriber() *BaseSubscriber {
	return NewBaseSubscriber(
		"console_logger",
		[]types.EventType{
			types.EventPhaseChanged,
			types.EventSignalDetected,
			types.EventTradeOpened,
			types.EventTradeClosed,
			types.EventError,
		},
		func(event types.Event) error {
			switch event.Type {
			case types.EventPhaseChanged:
				if data, ok := event.Data.(types.PhaseChangedData); ok {
					logger.Info("🔄 %s: фаза %s -> %s", data.Symbol, data.From, data.To)
				}
			case types.EventSignalDetected:
				if data, ok := event.Data.(types.SignalDetectedData); ok {
					logger.Info("📈 %s: сигнал %s @ %.4f (long=%.0f short=%.0f)",
						data.Symbol, data.Side, data.Price,
						data.Snapshot.LongScore, data.Snapshot.ShortScore)
				}
			case types.EventTradeOpened:
				if pos, ok := event.Data.(types.TradePosition); ok {
					logger.Info("🟢 %s: открыта позиция %s @ %.4f qty=%.4f",
						pos.Symbol, pos.Side, pos.EntryPrice, pos.Qty)
				}
			case types.EventTradeClosed:
				if trade, ok := event.Data.(types.ClosedTrade); ok {
					logger.Info("🔴 %s: закрыта позиция %s @ %.4f pnl=%.4f (%s)",
						trade.Symbol, trade.Side, trade.ExitPrice, trade.PnLNet, trade.Reason)
				}
			case types.EventError:
				logger.Error("❌ Ошибка: %v", event.Data)
			}
			return nil
		},
	)
}

// NewTradeJournalSubscriber создает подписчика, сохраняющего закрытые
// сделки через переданный колбэк (обычно репозиторий Postgres)
func NewTradeJournalSubscriber(save func(types.ClosedTrade) error) *BaseSubscriber {
	return NewBaseSubscriber(
		"trade_journal",
		[]types.EventType{types.EventTradeClosed},
		func(event types.Event) error {
			trade, ok := event.Data.(types.ClosedTrade)
			if !ok {
				return nil
			}
			return save(trade)
		},
	)
}

// NewSignalJournalSubscriber создает подписчика, сохраняющего сигналы
// входа через переданный колбэк
func NewSignalJournalSubscriber(save func(types.SignalDetectedData) error) *BaseSubscriber {
	return NewBaseSubscriber(
		"signal_journal",
		[]types.EventType{types.EventSignalDetected},
		func(event types.Event) error {
			data, ok := event.Data.(types.SignalDetectedData)
			if !ok {
				return nil
			}
			return save(data)
		},
	)
}
