// internal/infrastructure/transport/event_bus/middleware.go
package events

import (
	"fmt"
	"sync"
	"time"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// LoggingMiddleware - middleware для логирования обработки событий
type LoggingMiddleware struct{}

func (m *LoggingMiddleware) Process(event types.Event, next HandlerFunc) error {
	start := time.Now()

	err := next(event)

	duration := time.Since(start)
	if err != nil {
		logger.Debug("❌ [LoggingMiddleware] Ошибка обработки %s за %v: %v",
			event.Type, duration, err)
	} else {
		logger.Debug("✅ [LoggingMiddleware] %s обработан за %v", event.Type, duration)
	}

	return err
}

// ValidationMiddleware - middleware для валидации событий
type ValidationMiddleware struct{}

func (m *ValidationMiddleware) Process(event types.Event, next HandlerFunc) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	if event.Source == "" {
		return fmt.Errorf("event source is required")
	}

	if event.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}

	return next(event)
}

// RateLimitingMiddleware - middleware для ограничения частоты событий.
// Используется для алертов смены фазы, чтобы дребезг классификатора
// не спамил нотификаторы.
type RateLimitingMiddleware struct {
	limits   map[types.EventType]time.Duration
	lastCall map[types.EventType]time.Time
	mu       sync.RWMutex
}

func NewRateLimitingMiddleware(limits map[types.EventType]time.Duration) *RateLimitingMiddleware {
	return &RateLimitingMiddleware{
		limits:   limits,
		lastCall: make(map[types.EventType]time.Time),
	}
}

func (m *RateLimitingMiddleware) Process(event types.Event, next HandlerFunc) error {
	m.mu.RLock()
	limit, hasLimit := m.limits[event.Type]
	last, hasLast := m.lastCall[event.Type]
	m.mu.RUnlock()

	if hasLimit && hasLast {
		if time.Since(last) < limit {
			logger.Debug("⏳ Пропуск события %s (лимит частоты)", event.Type)
			return nil
		}
	}

	m.mu.Lock()
	m.lastCall[event.Type] = time.Now()
	m.mu.Unlock()

	return next(event)
}
