// internal/notifier/console_notifier.go
package notifier

import (
	"fmt"
	"log"
	"time"
)

// ConsoleNotifier нотификатор для консоли
type ConsoleNotifier struct {
	enabled bool
	compact bool
	stats   map[string]interface{}
}

// NewConsoleNotifier создает консольный нотификатор
func NewConsoleNotifier(compact bool) *ConsoleNotifier {
	return &ConsoleNotifier{
		enabled: true,
		compact: compact,
		stats: map[string]interface{}{
			"sent":           0,
			"last_sent_time": time.Time{},
			"type":           "console",
		},
	}
}

// Send выводит уведомление в консоль
func (c *ConsoleNotifier) Send(alert Alert) error {
	if !c.enabled {
		return nil
	}

	if c.compact {
		log.Printf("%s | %s", alert.Title, alert.Text)
	} else {
		fmt.Println("══════════════════════════════════════════════════")
		fmt.Printf("%s\n", alert.Title)
		fmt.Printf("%s\n", alert.Text)
		if alert.Symbol != "" {
			fmt.Printf("🔗 https://www.bybit.com/trade/usdt/%s\n", alert.Symbol)
		}
		fmt.Println("══════════════════════════════════════════════════")
	}

	c.stats["sent"] = c.stats["sent"].(int) + 1
	c.stats["last_sent_time"] = time.Now()

	return nil
}

// Name возвращает имя
func (c *ConsoleNotifier) Name() string {
	return "console"
}

// IsEnabled возвращает статус
func (c *ConsoleNotifier) IsEnabled() bool {
	return c.enabled
}

// SetEnabled включает/выключает
func (c *ConsoleNotifier) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// GetStats возвращает статистику
func (c *ConsoleNotifier) GetStats() map[string]interface{} {
	return c.stats
}
