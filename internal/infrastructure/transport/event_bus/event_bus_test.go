// internal/infrastructure/transport/event_bus/event_bus_test.go
package events

import (
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/types"
)

func testEvent(eventType types.EventType, data interface{}) types.Event {
	return types.Event{
		Type:      eventType,
		Source:    "test",
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestPublishSyncDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 10, WorkerCount: 1})

	var received []types.Event
	sub := NewBaseSubscriber("collector",
		[]types.EventType{types.EventSignalDetected},
		func(event types.Event) error {
			received = append(received, event)
			return nil
		})

	bus.Subscribe(types.EventSignalDetected, sub)

	event := testEvent(types.EventSignalDetected, types.SignalDetectedData{
		Symbol: "BTCUSDT",
		Side:   types.SideLong,
		Price:  50000,
	})
	if err := bus.PublishSync(event); err != nil {
		t.Fatalf("PublishSync вернул ошибку: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("ожидалось 1 доставленное событие, получено %d", len(received))
	}
	if received[0].ID == "" {
		t.Error("событие должно получить ID при публикации")
	}
}

func TestSubscribeRejectsUndeclaredEvent(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 10, WorkerCount: 1})

	sub := NewBaseSubscriber("narrow",
		[]types.EventType{types.EventTradeClosed},
		func(types.Event) error { return nil })

	// Подписчик не объявлял EventSignalDetected
	bus.Subscribe(types.EventSignalDetected, sub)

	if n := bus.GetSubscriberCount(types.EventSignalDetected); n != 0 {
		t.Errorf("подписка на необъявленное событие должна игнорироваться, подписчиков: %d", n)
	}
}

func TestPublishFailsWhenNotRunning(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 10, WorkerCount: 1})

	err := bus.Publish(testEvent(types.EventSignalDetected, nil))
	if err == nil {
		t.Error("Publish на незапущенной шине должен возвращать ошибку")
	}
}

func TestValidationMiddlewareRejectsBrokenEvents(t *testing.T) {
	mw := &ValidationMiddleware{}
	next := func(types.Event) error { return nil }

	cases := []struct {
		name  string
		event types.Event
	}{
		{"без типа", types.Event{Source: "test", Timestamp: time.Now()}},
		{"без источника", types.Event{Type: types.EventError, Timestamp: time.Now()}},
		{"без времени", types.Event{Type: types.EventError, Source: "test"}},
	}

	for _, tc := range cases {
		if err := mw.Process(tc.event, next); err == nil {
			t.Errorf("%s: валидация должна отклонить событие", tc.name)
		}
	}

	valid := testEvent(types.EventError, nil)
	if err := mw.Process(valid, next); err != nil {
		t.Errorf("корректное событие отклонено: %v", err)
	}
}

func TestRateLimitingMiddlewareSuppressesBursts(t *testing.T) {
	mw := NewRateLimitingMiddleware(map[types.EventType]time.Duration{
		types.EventPhaseChanged: time.Hour,
	})

	calls := 0
	next := func(types.Event) error {
		calls++
		return nil
	}

	event := testEvent(types.EventPhaseChanged, nil)
	mw.Process(event, next)
	mw.Process(event, next)
	mw.Process(event, next)

	if calls != 1 {
		t.Errorf("ожидался 1 пропущенный вызов за период, получено %d", calls)
	}

	// События без лимита проходят всегда
	other := testEvent(types.EventTradeClosed, nil)
	mw.Process(other, next)
	mw.Process(other, next)
	if calls != 3 {
		t.Errorf("события без лимита должны проходить, вызовов: %d", calls)
	}
}

func TestErrorOfOneSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 10, WorkerCount: 1})

	delivered := false
	failing := NewBaseSubscriber("failing",
		[]types.EventType{types.EventTradeClosed},
		func(types.Event) error { return errTest })
	healthy := NewBaseSubscriber("healthy",
		[]types.EventType{types.EventTradeClosed},
		func(types.Event) error {
			delivered = true
			return nil
		})

	bus.Subscribe(types.EventTradeClosed, failing)
	bus.Subscribe(types.EventTradeClosed, healthy)

	bus.PublishSync(testEvent(types.EventTradeClosed, types.ClosedTrade{}))

	if !delivered {
		t.Error("ошибка одного подписчика не должна блокировать остальных")
	}

	metrics := bus.GetMetrics()
	metrics.Mu.RLock()
	failed := metrics.EventsFailed
	metrics.Mu.RUnlock()
	if failed != 1 {
		t.Errorf("ожидалась 1 ошибка в метриках, получено %d", failed)
	}
}

var errTest = &testError{}

type testError struct{}

func (e *testError) Error() string { return "test error" }
