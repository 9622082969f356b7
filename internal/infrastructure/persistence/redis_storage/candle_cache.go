// internal/infrastructure/persistence/redis_storage/candle_cache.go
package redis_storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	redis_service "crypto-phase-trading-bot/internal/infrastructure/cache/redis"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// CandleCache кэширует исторические серии свечей для бэктестов.
// Ключ - (символ, окно, разрешение): повторный прогон того же окна
// не ходит в сеть.
type CandleCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCandleCache создает кэш свечей с заданным TTL
func NewCandleCache(redisService *redis_service.RedisService, ttl time.Duration) (*CandleCache, error) {
	if redisService == nil {
		return nil, fmt.Errorf("сервис Redis не инициализирован")
	}
	client := redisService.GetClient()
	if client == nil {
		return nil, fmt.Errorf("клиент Redis недоступен")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &CandleCache{
		client: client,
		prefix: "candles:",
		ttl:    ttl,
	}, nil
}

// Get возвращает закэшированную серию, если она есть
func (c *CandleCache) Get(ctx context.Context, symbol types.Symbol, from, to time.Time, resolution string) ([]types.Candle, bool) {
	raw, err := c.client.Get(ctx, c.key(symbol, from, to, resolution)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("⚠️ CandleCache: ошибка чтения %s: %v", symbol, err)
		return nil, false
	}

	var candles []types.Candle
	if err := json.Unmarshal([]byte(raw), &candles); err != nil {
		logger.Warn("⚠️ CandleCache: битая серия %s: %v", symbol, err)
		return nil, false
	}

	logger.Debug("📦 CandleCache: %s %s попадание, %d свечей", symbol, resolution, len(candles))
	return candles, true
}

// Put сохраняет серию с TTL
func (c *CandleCache) Put(ctx context.Context, symbol types.Symbol, from, to time.Time, resolution string, candles []types.Candle) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("CandleCache.Put: %w", err)
	}

	if err := c.client.Set(ctx, c.key(symbol, from, to, resolution), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("CandleCache.Put: %w", err)
	}
	return nil
}

func (c *CandleCache) key(symbol types.Symbol, from, to time.Time, resolution string) string {
	return fmt.Sprintf("%s%s:%s:%d-%d", c.prefix, symbol, resolution, from.Unix(), to.Unix())
}
