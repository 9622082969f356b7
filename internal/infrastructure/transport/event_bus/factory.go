// internal/infrastructure/transport/event_bus/factory.go
package events

import (
	"time"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/notifier"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// Factory - фабрика для создания EventBus
type Factory struct{}

// NewEventBusFromConfig создает EventBus из конфигурации
func (f *Factory) NewEventBusFromConfig(cfg *config.Config) *EventBus {
	eventBusConfig := EventBusConfig{
		BufferSize:    cfg.EventBusBufferSize,
		WorkerCount:   cfg.EventBusWorkers,
		EnableMetrics: cfg.MetricsEnabled,
		EnableLogging: true,
	}

	bus := NewEventBus(eventBusConfig)

	if cfg.LogLevel == "debug" {
		bus.AddMiddleware(&LoggingMiddleware{})
	}

	bus.AddMiddleware(&ValidationMiddleware{})

	// Смены фаз дребезжат на границах порогов, ограничиваем частоту алертов
	bus.AddMiddleware(NewRateLimitingMiddleware(map[types.EventType]time.Duration{
		types.EventPhaseChanged: time.Minute,
	}))

	return bus
}

// RegisterDefaultSubscribers регистрирует стандартных подписчиков:
// консольный лог, уведомления и журналы Postgres (если доступны)
func (f *Factory) RegisterDefaultSubscribers(
	bus *EventBus,
	notificationService *notifier.CompositeNotificationService,
	saveTrade func(types.ClosedTrade) error,
	saveSignal func(types.SignalDetectedData) error,
) {
	consoleLogger := NewConsoleLoggerSubscriber()
	for _, et := range consoleLogger.GetSubscribedEvents() {
		bus.Subscribe(et, consoleLogger)
	}

	if notificationService != nil {
		alertSubscriber := NewBaseSubscriber(
			"alert_notifier",
			[]types.EventType{
				types.EventPhaseChanged,
				types.EventSignalDetected,
				types.EventTradeOpened,
				types.EventTradeClosed,
			},
			func(event types.Event) error {
				switch data := event.Data.(type) {
				case types.PhaseChangedData:
					return notificationService.Send(notifier.FormatPhaseChange(data))
				case types.SignalDetectedData:
					return notificationService.Send(notifier.FormatSignal(data))
				case types.TradePosition:
					return notificationService.Send(notifier.FormatTradeOpened(data))
				case types.ClosedTrade:
					return notificationService.Send(notifier.FormatTradeClosed(data))
				}
				return nil
			},
		)
		for _, et := range alertSubscriber.GetSubscribedEvents() {
			bus.Subscribe(et, alertSubscriber)
		}
		logger.Info("✅ Нотификатор подписан на события")
	}

	if saveTrade != nil {
		bus.Subscribe(types.EventTradeClosed, NewTradeJournalSubscriber(saveTrade))
	}

	if saveSignal != nil {
		bus.Subscribe(types.EventSignalDetected, NewSignalJournalSubscriber(saveSignal))
	}
}
