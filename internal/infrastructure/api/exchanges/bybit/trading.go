// internal/infrastructure/api/exchanges/bybit/trading.go
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"crypto-phase-trading-bot/internal/executor"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// Торговые методы клиента реализуют executor.ExchangeGateway.

// PlaceMarketOrder размещает рыночный ордер
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty float64) (string, error) {
	payload := map[string]string{
		"category":  c.category,
		"symbol":    string(symbol),
		"side":      orderSide(side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("Client.PlaceMarketOrder: %w", err)
	}

	resp, err := c.sendPrivateRequest(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		return "", fmt.Errorf("Client.PlaceMarketOrder: %w", err)
	}

	var response struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &response); err != nil {
		return "", fmt.Errorf("Client.PlaceMarketOrder: %w", err)
	}

	logger.Info("📤 Ордер %s %s qty=%s принят: %s", symbol, side, payload["qty"], response.Result.OrderID)
	return response.Result.OrderID, nil
}

// ClosePosition закрывает позицию reduce-only рыночным ордером
// противоположной стороны
func (c *Client) ClosePosition(ctx context.Context, symbol types.Symbol, side types.Side, qty float64) error {
	payload := map[string]string{
		"category":   c.category,
		"symbol":     string(symbol),
		"side":       orderSide(side.Opposite()),
		"orderType":  "Market",
		"qty":        strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": "true",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Client.ClosePosition: %w", err)
	}

	if _, err := c.sendPrivateRequest(ctx, http.MethodPost, "/v5/order/create", nil, body); err != nil {
		return fmt.Errorf("Client.ClosePosition: %w", err)
	}
	return nil
}

type positionRow struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
}

// FetchPosition возвращает позицию по символу по версии биржи
func (c *Client) FetchPosition(ctx context.Context, symbol types.Symbol) (executor.ExchangePosition, bool, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", string(symbol))

	rows, err := c.fetchPositions(ctx, params)
	if err != nil {
		return executor.ExchangePosition{}, false, fmt.Errorf("Client.FetchPosition: %w", err)
	}

	for _, row := range rows {
		p, ok := toExchangePosition(row)
		if ok && p.Symbol == symbol {
			return p, true, nil
		}
	}
	return executor.ExchangePosition{}, false, nil
}

// FetchOpenPositions возвращает все открытые позиции
func (c *Client) FetchOpenPositions(ctx context.Context) ([]executor.ExchangePosition, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("settleCoin", "USDT")

	rows, err := c.fetchPositions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Client.FetchOpenPositions: %w", err)
	}

	positions := make([]executor.ExchangePosition, 0, len(rows))
	for _, row := range rows {
		if p, ok := toExchangePosition(row); ok {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (c *Client) fetchPositions(ctx context.Context, params url.Values) ([]positionRow, error) {
	body, err := c.sendPrivateRequest(ctx, http.MethodGet, "/v5/position/list", params, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result struct {
			List []positionRow `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse position response: %w", err)
	}
	return response.Result.List, nil
}

// WalletBalance возвращает капитал единого торгового аккаунта в USD
func (c *Client) WalletBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	body, err := c.sendPrivateRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil)
	if err != nil {
		return 0, fmt.Errorf("Client.WalletBalance: %w", err)
	}

	var response struct {
		Result struct {
			List []struct {
				TotalEquity string `json:"totalEquity"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("Client.WalletBalance: %w", err)
	}
	if len(response.Result.List) == 0 {
		return 0, fmt.Errorf("Client.WalletBalance: пустой ответ аккаунта")
	}

	equity, err := strconv.ParseFloat(response.Result.List[0].TotalEquity, 64)
	if err != nil {
		return 0, fmt.Errorf("Client.WalletBalance: failed to parse equity: %w", err)
	}
	return equity, nil
}

func toExchangePosition(row positionRow) (executor.ExchangePosition, bool) {
	qty := parseFloatOrZero(row.Size)
	if qty <= 0 {
		return executor.ExchangePosition{}, false
	}

	side := types.SideNone
	switch row.Side {
	case "Buy":
		side = types.SideLong
	case "Sell":
		side = types.SideShort
	}

	return executor.ExchangePosition{
		Symbol:     types.Symbol(row.Symbol),
		Side:       side,
		Qty:        qty,
		EntryPrice: parseFloatOrZero(row.AvgPrice),
	}, true
}

func orderSide(side types.Side) string {
	if side == types.SideShort {
		return "Sell"
	}
	return "Buy"
}
