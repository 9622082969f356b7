// internal/infrastructure/api/exchanges/bybit/client.go
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
	"crypto-phase-trading-bot/pkg/period"
)

const (
	CategoryLinear = "linear"

	recvWindow = "5000"
)

// Client - клиент API Bybit v5: рыночные данные и торговые операции
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	category   string

	rateMu      sync.Mutex
	lastRequest time.Time
	rateLimit   time.Duration
}

// Config - параметры клиента
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Category  string
	RateLimit time.Duration
}

// NewClient создает клиент Bybit
func NewClient(cfg Config) *Client {
	category := cfg.Category
	if category == "" {
		category = CategoryLinear
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 100 * time.Millisecond
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		category:    category,
		rateLimit:   rateLimit,
		lastRequest: time.Now().Add(-rateLimit),
	}
}

// waitForRateLimit притормаживает запросы до разрешенной частоты
func (c *Client) waitForRateLimit() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < c.rateLimit {
		time.Sleep(c.rateLimit - elapsed)
	}
	c.lastRequest = time.Now()
}

// generateSignature создает подпись HMAC-SHA256 для приватных запросов
func (c *Client) generateSignature(timestamp, params string) string {
	signString := timestamp + c.apiKey + recvWindow + params

	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(signString))
	return hex.EncodeToString(h.Sum(nil))
}

// sendPublicRequest отправляет публичный запрос
func (c *Client) sendPublicRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	c.waitForRateLimit()

	apiURL := c.baseURL + endpoint
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req)
}

// sendPrivateRequest отправляет подписанный запрос
func (c *Client) sendPrivateRequest(ctx context.Context, method, endpoint string, params url.Values, body []byte) ([]byte, error) {
	c.waitForRateLimit()

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var signPayload string
	apiURL := c.baseURL + endpoint
	if method == http.MethodGet {
		signPayload = params.Encode()
		if signPayload != "" {
			apiURL += "?" + signPayload
		}
	} else {
		signPayload = string(body)
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.generateSignature(timestamp, signPayload))

	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.RetCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", envelope.RetCode, envelope.RetMsg)
	}

	return body, nil
}

// ============================================
// РЫНОЧНЫЕ ДАННЫЕ
// ============================================

// GetSnapshot собирает снапшот рынка по символу из тикера
func (c *Client) GetSnapshot(ctx context.Context, symbol types.Symbol) (types.MarketSnapshot, error) {
	tickers, err := c.getTickers(ctx, string(symbol))
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("Client.GetSnapshot: %w", err)
	}
	if len(tickers) == 0 {
		return types.MarketSnapshot{}, fmt.Errorf("Client.GetSnapshot: тикер %s не найден", symbol)
	}

	t := tickers[0]
	snap := types.MarketSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}

	if snap.Price, err = strconv.ParseFloat(t.LastPrice, 64); err != nil || snap.Price <= 0 {
		return types.MarketSnapshot{}, fmt.Errorf("Client.GetSnapshot: невалидная цена %q для %s", t.LastPrice, symbol)
	}
	// Объем, OI и фандинг парсим мягко: пустое поле не валит тик
	snap.Volume24h = parseFloatOrZero(t.Turnover24h)
	snap.OpenInterest = parseFloatOrZero(t.OpenInterest)
	snap.FundingRate = parseFloatOrZero(t.FundingRate)

	return snap, nil
}

// GetTopLiquidSymbols возвращает n самых ликвидных символов по обороту
func (c *Client) GetTopLiquidSymbols(ctx context.Context, n int) ([]types.Symbol, error) {
	tickers, err := c.getTickers(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("Client.GetTopLiquidSymbols: %w", err)
	}

	type liquid struct {
		symbol   types.Symbol
		turnover float64
	}
	ranked := make([]liquid, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		ranked = append(ranked, liquid{types.Symbol(t.Symbol), parseFloatOrZero(t.Turnover24h)})
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].turnover > ranked[j].turnover })
	if n > len(ranked) {
		n = len(ranked)
	}

	symbols := make([]types.Symbol, 0, n)
	for _, r := range ranked[:n] {
		symbols = append(symbols, r.symbol)
	}

	logger.Debug("📊 Отобрано %d ликвидных символов", len(symbols))
	return symbols, nil
}

type tickerRow struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
	OpenInterest string `json:"openInterest"`
	FundingRate  string `json:"fundingRate"`
}

func (c *Client) getTickers(ctx context.Context, symbol string) ([]tickerRow, error) {
	params := url.Values{}
	params.Set("category", c.category)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.sendPublicRequest(ctx, "/v5/market/tickers", params)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result struct {
			List []tickerRow `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}
	return response.Result.List, nil
}

// GetKlines получает закрытые свечи символа. Bybit отдает свечи от
// новых к старым, здесь порядок разворачивается в хронологический.
func (c *Client) GetKlines(ctx context.Context, symbol types.Symbol, p string, start, end time.Time, limit int) ([]types.Candle, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", string(symbol))
	params.Set("interval", intervalFor(p))
	if !start.IsZero() {
		params.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.sendPublicRequest(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, fmt.Errorf("Client.GetKlines: %w", err)
	}

	var response struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("Client.GetKlines: failed to parse kline response: %w", err)
	}

	candles := make([]types.Candle, 0, len(response.Result.List))
	for i := len(response.Result.List) - 1; i >= 0; i-- {
		row := response.Result.List[i]
		if len(row) < 6 {
			continue
		}

		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			logger.Warn("⚠️ Ошибка парсинга времени свечи %s: %v", row[0], err)
			continue
		}
		startTime := time.UnixMilli(startMs).UTC()

		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Period:    p,
			Open:      parseFloatOrZero(row[1]),
			High:      parseFloatOrZero(row[2]),
			Low:       parseFloatOrZero(row[3]),
			Close:     parseFloatOrZero(row[4]),
			Volume:    parseFloatOrZero(row[5]),
			StartTime: startTime,
			EndTime:   period.NextBucket(startTime, p),
			IsClosed:  true,
		})
	}

	return candles, nil
}

// GetOpenInterest получает открытый интерес символа
func (c *Client) GetOpenInterest(ctx context.Context, symbol types.Symbol) (float64, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", string(symbol))
	params.Set("intervalTime", "5min")
	params.Set("limit", "1")

	body, err := c.sendPublicRequest(ctx, "/v5/market/open-interest", params)
	if err != nil {
		return 0, fmt.Errorf("Client.GetOpenInterest: %w", err)
	}

	var response struct {
		Result struct {
			List []struct {
				OpenInterest string `json:"openInterest"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("Client.GetOpenInterest: %w", err)
	}
	if len(response.Result.List) == 0 || response.Result.List[0].OpenInterest == "" {
		return 0, nil
	}

	oi, err := strconv.ParseFloat(response.Result.List[0].OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("Client.GetOpenInterest: failed to parse value: %w", err)
	}
	return oi, nil
}

// TestConnection проверяет доступность API
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.getTickers(ctx, "BTCUSDT"); err != nil {
		return fmt.Errorf("Client.TestConnection: %w", err)
	}
	logger.Info("✅ Bybit: подключение успешно")
	return nil
}

// intervalFor переводит период в обозначение интервала Bybit
func intervalFor(p string) string {
	switch p {
	case period.Period1m:
		return "1"
	case period.Period5m:
		return "5"
	case period.Period15m:
		return "15"
	case period.Period30m:
		return "30"
	case period.Period1h:
		return "60"
	case period.Period4h:
		return "240"
	case period.Period1d:
		return "D"
	default:
		return "1"
	}
}

func parseFloatOrZero(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
