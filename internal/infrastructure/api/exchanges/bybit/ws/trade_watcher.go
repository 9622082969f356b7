// internal/infrastructure/api/exchanges/bybit/ws/trade_watcher.go
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"crypto-phase-trading-bot/pkg/logger"
)

const (
	defaultWSURL  = "wss://stream.bybit.com/v5/public/linear"
	pingInterval  = 20 * time.Second
	maxTopics     = 200 // лимит Bybit на топики одного соединения
	maxRetryDelay = 60 * time.Second
)

// TradeWatcher подписывается на ленту сделок Bybit и накапливает
// подписанный объем (CVD) в скользящем окне по каждому символу.
// Пайплайн забирает дельту через Flow при сборке снапшота.
type TradeWatcher struct {
	url        string
	aggregator *FlowAggregator

	stopCh chan struct{}
	wg     sync.WaitGroup

	symbolsMu sync.RWMutex
	symbols   []string
}

// NewTradeWatcher создает наблюдатель ленты для списка символов
func NewTradeWatcher(wsURL string, symbols []string, window time.Duration) *TradeWatcher {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if len(symbols) > maxTopics {
		symbols = symbols[:maxTopics]
	}
	return &TradeWatcher{
		url:        wsURL,
		aggregator: NewFlowAggregator(window),
		stopCh:     make(chan struct{}),
		symbols:    symbols,
	}
}

// Flow возвращает накопленную дельту объемов символа за окно
func (w *TradeWatcher) Flow(symbol string) float64 {
	return w.aggregator.Delta(symbol)
}

// UpdateSymbols меняет список подписки, применится при переподключении
func (w *TradeWatcher) UpdateSymbols(symbols []string) {
	if len(symbols) > maxTopics {
		symbols = symbols[:maxTopics]
	}
	w.symbolsMu.Lock()
	w.symbols = symbols
	w.symbolsMu.Unlock()
}

// Start запускает горутину соединения с авто-переподключением
func (w *TradeWatcher) Start() {
	w.wg.Add(1)
	go w.connectLoop()
	logger.Info("🌊 TradeWatcher: запущен, символов для подписки: %d", len(w.symbols))
}

// Stop останавливает наблюдатель и ждет завершения горутин
func (w *TradeWatcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	logger.Info("🛑 TradeWatcher: остановлен")
}

// connectLoop переподключается с экспоненциальным backoff
func (w *TradeWatcher) connectLoop() {
	defer w.wg.Done()

	retryDelay := 2 * time.Second

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.symbolsMu.RLock()
		symbols := w.symbols
		w.symbolsMu.RUnlock()

		if len(symbols) == 0 {
			logger.Warn("⚠️ TradeWatcher: нет символов, повтор через %v", retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-w.stopCh:
				return
			}
			retryDelay = minDuration(retryDelay*2, maxRetryDelay)
			continue
		}

		logger.Info("🔌 TradeWatcher: подключение к Bybit WS (%d символов)", len(symbols))
		if err := w.runConnection(symbols); err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			logger.Warn("⚠️ TradeWatcher: WS-соединение прервано: %v, повтор через %v", err, retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-w.stopCh:
				return
			}
			retryDelay = minDuration(retryDelay*2, maxRetryDelay)
		} else {
			retryDelay = 2 * time.Second
		}
	}
}

// runConnection держит одно WS-соединение: подписка, пинг, чтение
func (w *TradeWatcher) runConnection(symbols []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	defer conn.CloseNow()

	logger.Info("✅ TradeWatcher: WS-соединение установлено")

	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		topics = append(topics, "publicTrade."+sym)
	}
	if err := w.subscribeTopics(ctx, conn, topics); err != nil {
		return fmt.Errorf("ошибка подписки: %w", err)
	}

	pingStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := wsjson.Write(ctx, conn, map[string]string{"op": "ping"}); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer close(pingStop)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ошибка чтения: %w", err)
			}
		}

		w.handleMessage(raw)
	}
}

// subscribeTopics подписывается батчами по 10 топиков
func (w *TradeWatcher) subscribeTopics(ctx context.Context, conn *websocket.Conn, topics []string) error {
	const batchSize = 10

	for i := 0; i < len(topics); i += batchSize {
		end := i + batchSize
		if end > len(topics) {
			end = len(topics)
		}

		msg := struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}{Op: "subscribe", Args: topics[i:end]}

		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}

	logger.Info("📡 TradeWatcher: подписан на %d топиков", len(topics))
	return nil
}

// tradeMsg - пуш ленты сделок, data может нести несколько принтов
type tradeMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Symbol string `json:"s"`
		Side   string `json:"S"` // "Buy" / "Sell" - сторона тейкера
		Size   string `json:"v"`
		Price  string `json:"p"`
		TimeMs int64  `json:"T"`
	} `json:"data"`
}

func (w *TradeWatcher) handleMessage(raw json.RawMessage) {
	var resp struct {
		Op      string `json:"op"`
		Success bool   `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Op != "" {
		if resp.Op == "subscribe" && !resp.Success {
			logger.Warn("⚠️ TradeWatcher: ошибка подписки: %s", resp.RetMsg)
		}
		return
	}

	var msg tradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "publicTrade.") {
		return
	}

	for _, d := range msg.Data {
		if d.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(d.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		size, err := strconv.ParseFloat(d.Size, 64)
		if err != nil || size <= 0 {
			continue
		}

		delta := price * size
		if d.Side == "Sell" {
			delta = -delta
		}

		w.aggregator.Add(d.Symbol, delta, time.UnixMilli(d.TimeMs))
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
