// internal/infrastructure/persistence/postgres/models/models.go
package models

import "time"

// ClosedTradeRow - строка журнала закрытых сделок
type ClosedTradeRow struct {
	ID         string    `db:"id"`
	Symbol     string    `db:"symbol"`
	Side       string    `db:"side"`
	EntryPrice float64   `db:"entry_price"`
	ExitPrice  float64   `db:"exit_price"`
	Qty        float64   `db:"qty"`
	EntryTime  time.Time `db:"entry_time"`
	ExitTime   time.Time `db:"exit_time"`
	PnLGross   float64   `db:"pnl_gross"`
	Fees       float64   `db:"fees"`
	PnLNet     float64   `db:"pnl_net"`
	Reason     string    `db:"reason"`
}

// SignalRow - строка журнала сигналов
type SignalRow struct {
	ID         int64     `db:"id"`
	Symbol     string    `db:"symbol"`
	Side       string    `db:"side"`
	Phase      string    `db:"phase"`
	LongScore  float64   `db:"long_score"`
	ShortScore float64   `db:"short_score"`
	CreatedAt  time.Time `db:"created_at"`
}
