// internal/notifier/alerts.go
package notifier

import (
	"fmt"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/types"
)

// FromConfig собирает сервис уведомлений по конфигурации.
// Консольный нотификатор включен всегда, telegram - по NOTIFIER.
func FromConfig(cfg *config.Config) *CompositeNotificationService {
	service := NewCompositeNotificationService()
	service.AddNotifier(NewConsoleNotifier(cfg.NotifierKind != "console"))

	if cfg.NotifierKind == "telegram" {
		if tn := NewTelegramNotifier(cfg); tn != nil {
			service.AddNotifier(tn)
		}
	}

	return service
}

// FormatSignal форматирует алерт входного сигнала
func FormatSignal(data types.SignalDetectedData) Alert {
	icon := "🟢"
	if data.Side == types.SideShort {
		icon = "🔴"
	}

	return Alert{
		Symbol: data.Symbol,
		Title:  fmt.Sprintf("%s Сигнал %s: %s @ %.4f", icon, data.Side, data.Symbol, data.Price),
		Text: fmt.Sprintf("Фаза: %s | long=%.0f short=%.0f",
			data.Snapshot.Phase, data.Snapshot.LongScore, data.Snapshot.ShortScore),
	}
}

// FormatPhaseChange форматирует алерт смены фазы
func FormatPhaseChange(data types.PhaseChangedData) Alert {
	return Alert{
		Symbol: data.Symbol,
		Title:  fmt.Sprintf("🔄 %s: фаза %s -> %s", data.Symbol, data.From, data.To),
	}
}

// FormatTradeOpened форматирует алерт открытия позиции
func FormatTradeOpened(pos types.TradePosition) Alert {
	return Alert{
		Symbol: pos.Symbol,
		Title:  fmt.Sprintf("🟢 Открыта позиция %s %s", pos.Side, pos.Symbol),
		Text: fmt.Sprintf("Вход: %.4f | Стоп: %.4f | Тейк: %.4f | Кол-во: %.4f",
			pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.Qty),
	}
}

// FormatTradeClosed форматирует алерт закрытия позиции
func FormatTradeClosed(trade types.ClosedTrade) Alert {
	icon := "✅"
	if trade.PnLNet < 0 {
		icon = "🔻"
	}

	return Alert{
		Symbol: trade.Symbol,
		Title:  fmt.Sprintf("%s Закрыта позиция %s %s", icon, trade.Side, trade.Symbol),
		Text: fmt.Sprintf("Вход: %.4f | Выход: %.4f | PnL: %.4f (%s)",
			trade.EntryPrice, trade.ExitPrice, trade.PnLNet, trade.Reason),
	}
}
