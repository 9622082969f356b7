// internal/infrastructure/persistence/postgres/repository/trades/repository.go
package trades

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"crypto-phase-trading-bot/internal/infrastructure/persistence/postgres/models"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

type tradesRepoImpl struct {
	db *sqlx.DB
}

// NewTradesRepository создает реализацию TradesRepository
func NewTradesRepository(db *sqlx.DB) TradesRepository {
	return &tradesRepoImpl{db: db}
}

// Save вставляет закрытую сделку в журнал
func (r *tradesRepoImpl) Save(trade types.ClosedTrade) error {
	row := models.ClosedTradeRow{
		ID:         trade.ID,
		Symbol:     string(trade.Symbol),
		Side:       string(trade.Side),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  trade.ExitPrice,
		Qty:        trade.Qty,
		EntryTime:  trade.EntryTime,
		ExitTime:   trade.ExitTime,
		PnLGross:   trade.PnLGross,
		Fees:       trade.Fees,
		PnLNet:     trade.PnLNet,
		Reason:     string(trade.Reason),
	}

	query := `
		INSERT INTO closed_trades (id, symbol, side, entry_price, exit_price, qty,
			entry_time, exit_time, pnl_gross, fees, pnl_net, reason)
		VALUES (:id, :symbol, :side, :entry_price, :exit_price, :qty,
			:entry_time, :exit_time, :pnl_gross, :fees, :pnl_net, :reason)
	`
	if _, err := r.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("TradesRepo.Save: %w", err)
	}

	logger.Info("💾 Сделка %s %s записана в журнал: pnl=%.4f (%s)",
		trade.Symbol, trade.Side, trade.PnLNet, trade.Reason)
	return nil
}

// FindBySymbol возвращает последние сделки символа
func (r *tradesRepoImpl) FindBySymbol(symbol types.Symbol, limit int) ([]types.ClosedTrade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, qty,
			entry_time, exit_time, pnl_gross, fees, pnl_net, reason
		FROM closed_trades
		WHERE symbol = $1
		ORDER BY exit_time DESC
		LIMIT $2
	`
	var rows []models.ClosedTradeRow
	if err := r.db.Select(&rows, query, string(symbol), limit); err != nil {
		return nil, fmt.Errorf("TradesRepo.FindBySymbol: %w", err)
	}

	trades := make([]types.ClosedTrade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, types.ClosedTrade{
			TradePosition: types.TradePosition{
				ID:         row.ID,
				Symbol:     types.Symbol(row.Symbol),
				Side:       types.Side(row.Side),
				EntryPrice: row.EntryPrice,
				Qty:        row.Qty,
				EntryTime:  row.EntryTime,
			},
			ExitPrice: row.ExitPrice,
			ExitTime:  row.ExitTime,
			PnLGross:  row.PnLGross,
			Fees:      row.Fees,
			PnLNet:    row.PnLNet,
			Reason:    types.CloseReason(row.Reason),
		})
	}
	return trades, nil
}

// CountByReason возвращает распределение закрытий по причинам
func (r *tradesRepoImpl) CountByReason() (map[types.CloseReason]int, error) {
	query := `SELECT reason, COUNT(*) AS cnt FROM closed_trades GROUP BY reason`

	var rows []struct {
		Reason string `db:"reason"`
		Cnt    int    `db:"cnt"`
	}
	if err := r.db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("TradesRepo.CountByReason: %w", err)
	}

	result := make(map[types.CloseReason]int, len(rows))
	for _, row := range rows {
		result[types.CloseReason(row.Reason)] = row.Cnt
	}
	return result, nil
}
