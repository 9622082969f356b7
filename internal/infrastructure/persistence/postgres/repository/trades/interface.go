// internal/infrastructure/persistence/postgres/repository/trades/interface.go
package trades

import (
	"crypto-phase-trading-bot/internal/types"
)

// TradesRepository - журнал закрытых сделок
type TradesRepository interface {
	Save(trade types.ClosedTrade) error
	FindBySymbol(symbol types.Symbol, limit int) ([]types.ClosedTrade, error)
	CountByReason() (map[types.CloseReason]int, error)
}
