// internal/infrastructure/persistence/clickhouse/source.go
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

// Config - параметры подключения к ClickHouse
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Source - хранилище исторических свечей в ClickHouse. Используется
// бэктестом как источник истории вместо биржевого API, когда склад
// данных доступен.
type Source struct {
	conn driver.Conn
}

// NewSource подключается к ClickHouse и проверяет соединение
func NewSource(cfg Config) (*Source, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	logger.Info("✅ Connected to ClickHouse (%s/%s)", cfg.Addr, cfg.Database)
	return &Source{conn: conn}, nil
}

// Close закрывает соединение
func (s *Source) Close() error {
	return s.conn.Close()
}

// Candles возвращает свечи символа за интервал в хронологическом порядке
func (s *Source) Candles(ctx context.Context, symbol types.Symbol, resolution string, from, to time.Time) ([]types.Candle, error) {
	query := `
		SELECT open_time_ms, open, high, low, close, volume_base
		FROM klines
		WHERE symbol = ? AND interval = ?
		  AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms
	`

	rows, err := s.conn.Query(ctx, query,
		string(symbol), resolution, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("Source.Candles: %w", err)
	}
	defer rows.Close()

	var candles []types.Candle
	for rows.Next() {
		var (
			openTimeMs uint64
			o, h, l, c float64
			volume     float64
		)
		if err := rows.Scan(&openTimeMs, &o, &h, &l, &c, &volume); err != nil {
			return nil, fmt.Errorf("Source.Candles: scan: %w", err)
		}

		startTime := time.UnixMilli(int64(openTimeMs)).UTC()
		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Period:    resolution,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    volume,
			StartTime: startTime,
			IsClosed:  true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Source.Candles: rows: %w", err)
	}

	logger.Debug("📊 ClickHouse: %s %s получено %d свечей", symbol, resolution, len(candles))
	return candles, nil
}
