// internal/infrastructure/transport/event_bus/event_bus.go
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// EventBus - центральная шина событий. Пайплайн публикует сюда смены фаз,
// сигналы и события сделок; нотификаторы и журналы подписываются.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]types.EventSubscriber
	middlewares []Middleware
	eventBuffer chan types.Event
	metrics     *types.EventBusMetrics
	config      EventBusConfig
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// EventBusConfig - конфигурация EventBus
type EventBusConfig struct {
	BufferSize    int  `json:"buffer_size"`
	WorkerCount   int  `json:"worker_count"`
	EnableMetrics bool `json:"enable_metrics"`
	EnableLogging bool `json:"enable_logging"`
}

// DefaultConfig - конфигурация по умолчанию
var DefaultConfig = EventBusConfig{
	BufferSize:    1000,
	WorkerCount:   4,
	EnableMetrics: true,
	EnableLogging: true,
}

// NewEventBus создает новую шину событий
func NewEventBus(config ...EventBusConfig) *EventBus {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	bus := &EventBus{
		subscribers: make(map[types.EventType][]types.EventSubscriber),
		middlewares: make([]Middleware, 0),
		eventBuffer: make(chan types.Event, cfg.BufferSize),
		metrics: &types.EventBusMetrics{
			SubscribersCount: make(map[types.EventType]int),
		},
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	if cfg.EnableMetrics {
		bus.startMetricsCollection()
	}

	return bus
}

// Start запускает EventBus
func (b *EventBus) Start() {
	if b.running {
		return
	}

	b.running = true

	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.eventWorker(i)
	}

	if b.config.EnableLogging {
		logger.Info("🚀 EventBus запущен с %d обработчиками", b.config.WorkerCount)
	}
}

// Stop останавливает EventBus
func (b *EventBus) Stop() {
	if !b.running {
		return
	}

	b.running = false
	close(b.stopChan)
	b.wg.Wait()
	close(b.eventBuffer)

	if b.config.EnableLogging {
		logger.Info("🛑 EventBus остановлен")
	}
}

// Subscribe подписывает обработчик на тип события
func (b *EventBus) Subscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Подписчик обязан объявить событие в своем списке
	found := false
	for _, et := range subscriber.GetSubscribedEvents() {
		if et == eventType {
			found = true
			break
		}
	}

	if !found {
		logger.Warn("⚠️ Подписчик %s не объявил событие %s",
			subscriber.GetName(), eventType)
		return
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
	b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])

	if b.config.EnableLogging {
		logger.Info("✅ %s подписался на %s", subscriber.GetName(), eventType)
	}
}

// Unsubscribe отписывает обработчик от типа события
func (b *EventBus) Unsubscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[eventType]
	if !exists {
		return
	}

	for i, sub := range subscribers {
		if sub == subscriber {
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])

			if b.config.EnableLogging {
				logger.Info("❌ %s отписался от %s", subscriber.GetName(), eventType)
			}
			return
		}
	}
}

// Publish публикует событие асинхронно. Полный буфер не блокирует
// пайплайн: событие отбрасывается с ошибкой.
func (b *EventBus) Publish(event types.Event) error {
	if !b.running {
		return fmt.Errorf("event bus is not running")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventBuffer <- event:
		b.metrics.Mu.Lock()
		b.metrics.EventsPublished++
		b.metrics.Mu.Unlock()

		if b.config.EnableLogging && event.Type != types.EventPriceUpdated {
			logger.Debug("📤 Опубликовано событие: %s от %s", event.Type, event.Source)
		}
		return nil
	default:
		if b.config.EnableLogging {
			logger.Warn("⚠️ Буфер событий полон, событие отброшено: %s", event.Type)
		}
		return fmt.Errorf("event buffer is full")
	}
}

// PublishSync публикует событие синхронно
func (b *EventBus) PublishSync(event types.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.processEvent(event)
}

// AddMiddleware добавляет middleware
func (b *EventBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middlewares = append(b.middlewares, middleware)
}

// eventWorker - обработчик событий
func (b *EventBus) eventWorker(id int) {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventBuffer:
			b.processEvent(event)
		case <-b.stopChan:
			logger.Debug("🔍 [EventWorker %d] Остановлен", id)
			return
		}
	}
}

// processEvent обрабатывает одно событие
func (b *EventBus) processEvent(event types.Event) error {
	startTime := time.Now()

	defer func() {
		b.metrics.Mu.Lock()
		b.metrics.ProcessingTime += time.Since(startTime)
		b.metrics.EventsProcessed++
		b.metrics.Mu.Unlock()
	}()

	b.mu.RLock()
	subscribers, exists := b.subscribers[event.Type]
	b.mu.RUnlock()

	if !exists || len(subscribers) == 0 {
		return nil
	}

	handler := b.createHandlerChain(subscribers)
	return b.executeWithMiddleware(event, handler)
}

// createHandlerChain создает цепочку обработчиков. Ошибка одного
// подписчика не мешает остальным получить событие.
func (b *EventBus) createHandlerChain(subscribers []types.EventSubscriber) HandlerFunc {
	return func(event types.Event) error {
		var lastError error

		for _, subscriber := range subscribers {
			if err := b.handleSubscriber(event, subscriber); err != nil {
				lastError = err
				logger.Error("❌ Ошибка обработки события %s подписчиком %s: %v",
					event.Type, subscriber.GetName(), err)
			}
		}

		return lastError
	}
}

// handleSubscriber вызывает одного подписчика с учетом метрик
func (b *EventBus) handleSubscriber(event types.Event, subscriber types.EventSubscriber) error {
	if err := subscriber.HandleEvent(event); err != nil {
		b.metrics.Mu.Lock()
		b.metrics.EventsFailed++
		b.metrics.Mu.Unlock()
		return err
	}
	return nil
}

// executeWithMiddleware выполняет обработку через цепочку middleware
func (b *EventBus) executeWithMiddleware(event types.Event, handler HandlerFunc) error {
	chain := handler
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		mw := b.middlewares[i]
		next := chain
		chain = func(event types.Event) error {
			return mw.Process(event, next)
		}
	}

	return chain(event)
}

// GetMetrics возвращает метрики
func (b *EventBus) GetMetrics() *types.EventBusMetrics {
	return b.metrics
}

// GetSubscriberCount возвращает количество подписчиков
func (b *EventBus) GetSubscriberCount(eventType types.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[eventType])
}

// GetEventTypes возвращает все типы событий с подписчиками
func (b *EventBus) GetEventTypes() []types.EventType {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var eventTypes []types.EventType
	for eventType := range b.subscribers {
		eventTypes = append(eventTypes, eventType)
	}

	sort.Slice(eventTypes, func(i, j int) bool {
		return eventTypes[i] < eventTypes[j]
	})

	return eventTypes
}

// startMetricsCollection запускает периодическое логирование метрик
func (b *EventBus) startMetricsCollection() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.logMetrics()
			case <-b.stopChan:
				return
			}
		}
	}()
}

// logMetrics логирует метрики
func (b *EventBus) logMetrics() {
	b.metrics.Mu.RLock()
	published := b.metrics.EventsPublished
	processed := b.metrics.EventsProcessed
	failed := b.metrics.EventsFailed
	total := b.metrics.ProcessingTime
	b.metrics.Mu.RUnlock()

	logger.Info("📊 EventBus метрики:")
	logger.Info("   Опубликовано: %d событий", published)
	logger.Info("   Обработано: %d событий", processed)
	logger.Info("   Ошибок: %d событий", failed)

	if processed > 0 {
		logger.Info("   Среднее время обработки: %v", total/time.Duration(processed))
	}
}

// IsRunning возвращает true если EventBus запущен
func (b *EventBus) IsRunning() bool {
	return b.running
}

// Name возвращает имя сервиса
func (b *EventBus) Name() string {
	return "EventBus"
}

// HealthCheck проверяет здоровье сервиса
func (b *EventBus) HealthCheck() bool {
	if !b.running {
		return false
	}
	if b.eventBuffer == nil {
		return false
	}

	select {
	case <-b.stopChan:
		return false
	default:
		return true
	}
}
