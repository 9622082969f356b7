// internal/notifier/notification_service.go
package notifier

import (
	"sync"
	"time"

	"crypto-phase-trading-bot/pkg/logger"
)

// Alert - текстовое уведомление пользователю. Формируется пайплайном
// из событий фаз, сигналов и сделок.
type Alert struct {
	Symbol string
	Title  string
	Text   string
	Time   time.Time
}

// Notifier интерфейс отдельного нотификатора
type Notifier interface {
	Send(alert Alert) error
	Name() string
	IsEnabled() bool
	SetEnabled(bool)
	GetStats() map[string]interface{}
}

// CompositeNotificationService композитный сервис уведомлений.
// Ошибка доставки логируется и не возвращается наверх: уведомления
// не должны останавливать торговый цикл.
type CompositeNotificationService struct {
	notifiers []Notifier
	enabled   bool
	mu        sync.RWMutex
	stats     map[string]interface{}
}

// NewCompositeNotificationService создает композитный сервис
func NewCompositeNotificationService() *CompositeNotificationService {
	return &CompositeNotificationService{
		notifiers: make([]Notifier, 0),
		enabled:   true,
		stats: map[string]interface{}{
			"total_sent":     0,
			"successful":     0,
			"failed":         0,
			"last_sent_time": time.Time{},
		},
	}
}

// Send отправляет уведомление через все нотификаторы
func (c *CompositeNotificationService) Send(alert Alert) error {
	if !c.IsEnabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sentCount := 0
	for _, n := range c.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(alert); err != nil {
			logger.Error("❌ Ошибка отправки через %s: %v", n.Name(), err)
		} else {
			sentCount++
		}
	}

	c.stats["total_sent"] = c.stats["total_sent"].(int) + 1
	if sentCount > 0 {
		c.stats["successful"] = c.stats["successful"].(int) + 1
	} else {
		c.stats["failed"] = c.stats["failed"].(int) + 1
	}
	c.stats["last_sent_time"] = time.Now()

	return nil
}

// AddNotifier добавляет нотификатор
func (c *CompositeNotificationService) AddNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// RemoveNotifier удаляет нотификатор по имени
func (c *CompositeNotificationService) RemoveNotifier(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.notifiers {
		if n.Name() == name {
			c.notifiers = append(c.notifiers[:i], c.notifiers[i+1:]...)
			break
		}
	}
}

// GetNotifiers возвращает копию списка нотификаторов
func (c *CompositeNotificationService) GetNotifiers() []Notifier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Notifier, len(c.notifiers))
	copy(result, c.notifiers)
	return result
}

// SetEnabled включает/выключает сервис
func (c *CompositeNotificationService) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled возвращает статус
func (c *CompositeNotificationService) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// GetStats возвращает статистику всех нотификаторов
func (c *CompositeNotificationService) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]interface{})
	for k, v := range c.stats {
		result[k] = v
	}

	notifierStats := make(map[string]interface{})
	for _, n := range c.notifiers {
		notifierStats[n.Name()] = n.GetStats()
	}
	result["notifiers"] = notifierStats

	return result
}
