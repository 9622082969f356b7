// internal/infrastructure/persistence/redis_storage/snapshot_storage.go
package redis_storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	redis_service "crypto-phase-trading-bot/internal/infrastructure/cache/redis"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// SnapshotStorage - append-only лента снапшотов рынка в Redis.
// Снапшоты лежат в sorted set по символу, score - unix-время:
// чтение диапазона для дельт и реплея получается бесплатно.
type SnapshotStorage struct {
	client *redis.Client
	prefix string
}

// NewSnapshotStorage создает хранилище снапшотов
func NewSnapshotStorage(redisService *redis_service.RedisService) (*SnapshotStorage, error) {
	if redisService == nil {
		return nil, fmt.Errorf("сервис Redis не инициализирован")
	}
	client := redisService.GetClient()
	if client == nil {
		return nil, fmt.Errorf("клиент Redis недоступен")
	}

	return &SnapshotStorage{
		client: client,
		prefix: "snapshot:",
	}, nil
}

// Append добавляет снапшот в ленту символа
func (s *SnapshotStorage) Append(ctx context.Context, snap types.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("SnapshotStorage.Append: %w", err)
	}

	key := s.key(snap.Symbol)
	err = s.client.ZAdd(ctx, key, &redis.Z{
		Score:  float64(snap.Timestamp.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("SnapshotStorage.Append: %w", err)
	}
	return nil
}

// Range возвращает снапшоты символа за интервал [from, to], по времени
func (s *SnapshotStorage) Range(ctx context.Context, symbol types.Symbol, from, to time.Time) ([]types.MarketSnapshot, error) {
	results, err := s.client.ZRangeByScore(ctx, s.key(symbol), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.Unix()),
		Max: fmt.Sprintf("%d", to.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("SnapshotStorage.Range: %w", err)
	}

	snaps := make([]types.MarketSnapshot, 0, len(results))
	for _, raw := range results {
		var snap types.MarketSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			logger.Warn("⚠️ SnapshotStorage: битый снапшот %s: %v", symbol, err)
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

// Cleanup удаляет снапшоты старше maxAge
func (s *SnapshotStorage) Cleanup(ctx context.Context, symbol types.Symbol, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	removed, err := s.client.ZRemRangeByScore(ctx, s.key(symbol), "-inf", fmt.Sprintf("%d", cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("SnapshotStorage.Cleanup: %w", err)
	}
	if removed > 0 {
		logger.Debug("🧹 SnapshotStorage: удалено %d старых снапшотов %s", removed, symbol)
	}
	return int(removed), nil
}

func (s *SnapshotStorage) key(symbol types.Symbol) string {
	return s.prefix + string(symbol)
}
