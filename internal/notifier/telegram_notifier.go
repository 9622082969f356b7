// internal/notifier/telegram_notifier.go
package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/pkg/logger"
)

// TelegramNotifier нотификатор для Telegram Bot API
type TelegramNotifier struct {
	httpClient *http.Client
	baseURL    string
	chatID     int64
	enabled    bool
	stats      map[string]interface{}
}

// NewTelegramNotifier создает Telegram нотификатор.
// Возвращает nil, если токен или chat ID не заданы.
func NewTelegramNotifier(cfg *config.Config) *TelegramNotifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		logger.Warn("⚠️ Telegram токен или chat ID не указаны, нотификатор отключен")
		return nil
	}

	return &TelegramNotifier{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("https://api.telegram.org/bot%s/", cfg.TelegramToken),
		chatID:     cfg.TelegramChatID,
		enabled:    true,
		stats: map[string]interface{}{
			"sent":           0,
			"last_sent_time": time.Time{},
			"type":           "telegram",
		},
	}
}

// Send отправляет уведомление в Telegram
func (t *TelegramNotifier) Send(alert Alert) error {
	if !t.enabled {
		return nil
	}

	text := alert.Title
	if alert.Text != "" {
		text += "\n" + alert.Text
	}

	message := struct {
		ChatID    int64  `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode,omitempty"`
	}{
		ChatID: t.chatID,
		Text:   text,
	}

	if err := t.sendTelegramRequest("sendMessage", message); err != nil {
		return err
	}

	t.stats["sent"] = t.stats["sent"].(int) + 1
	t.stats["last_sent_time"] = time.Now()

	return nil
}

// sendTelegramRequest - общая функция для отправки запросов к Telegram API
func (t *TelegramNotifier) sendTelegramRequest(method string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	resp, err := t.httpClient.Post(
		t.baseURL+method,
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var telegramResp struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code,omitempty"`
		Description string `json:"description,omitempty"`
	}
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !telegramResp.OK {
		// 429: ждем сколько попросили и пробуем еще один раз
		if telegramResp.ErrorCode == 429 {
			retryAfter := 5
			var retryResp struct {
				Parameters struct {
					RetryAfter int `json:"retry_after"`
				} `json:"parameters"`
			}
			if json.Unmarshal(body, &retryResp) == nil && retryResp.Parameters.RetryAfter > 0 {
				retryAfter = retryResp.Parameters.RetryAfter
			}
			logger.Warn("⚠️ Telegram API лимит, ждем %d секунд", retryAfter)
			time.Sleep(time.Duration(retryAfter) * time.Second)
			return t.sendTelegramRequest(method, payload)
		}
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return nil
}

// Name возвращает имя
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled возвращает статус
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// SetEnabled включает/выключает
func (t *TelegramNotifier) SetEnabled(enabled bool) {
	t.enabled = enabled
}

// GetStats возвращает статистику
func (t *TelegramNotifier) GetStats() map[string]interface{} {
	return t.stats
}
