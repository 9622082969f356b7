// internal/infrastructure/persistence/postgres/repository/signals/repository.go
package signals

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"crypto-phase-trading-bot/internal/infrastructure/persistence/postgres/models"
	"crypto-phase-trading-bot/internal/types"
)

// SignalsRepository - журнал выданных сигналов входа
type SignalsRepository interface {
	Save(symbol types.Symbol, side types.Side, snapshot types.ScoreSnapshot) error
	FindRecent(symbol types.Symbol, limit int) ([]models.SignalRow, error)
}

type signalsRepoImpl struct {
	db *sqlx.DB
}

// NewSignalsRepository создает реализацию SignalsRepository
func NewSignalsRepository(db *sqlx.DB) SignalsRepository {
	return &signalsRepoImpl{db: db}
}

// Save вставляет сигнал в журнал
func (r *signalsRepoImpl) Save(symbol types.Symbol, side types.Side, snapshot types.ScoreSnapshot) error {
	row := models.SignalRow{
		Symbol:     string(symbol),
		Side:       string(side),
		Phase:      string(snapshot.Phase),
		LongScore:  snapshot.LongScore,
		ShortScore: snapshot.ShortScore,
	}

	query := `
		INSERT INTO signal_journal (symbol, side, phase, long_score, short_score)
		VALUES (:symbol, :side, :phase, :long_score, :short_score)
	`
	if _, err := r.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("SignalsRepo.Save: %w", err)
	}
	return nil
}

// FindRecent возвращает последние сигналы символа
func (r *signalsRepoImpl) FindRecent(symbol types.Symbol, limit int) ([]models.SignalRow, error) {
	query := `
		SELECT id, symbol, side, phase, long_score, short_score, created_at
		FROM signal_journal
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []models.SignalRow
	if err := r.db.Select(&rows, query, string(symbol), limit); err != nil {
		return nil, fmt.Errorf("SignalsRepo.FindRecent: %w", err)
	}
	return rows, nil
}
