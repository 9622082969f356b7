// pkg/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-phase-trading-bot/pkg/logger"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Действия FSM по тикам",
		},
		[]string{"action"},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Входные сигналы по сторонам",
		},
		[]string{"side"},
	)

	phaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_phase_changes_total",
			Help: "Смены фазы рынка",
		},
		[]string{"phase"},
	)

	exitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Закрытия позиций по причинам и сторонам",
		},
		[]string{"reason", "side"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Сделки по результату (open|win|loss)",
		},
		[]string{"result"},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Текущий баланс в USD",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Количество открытых позиций",
		},
	)

	symbolsMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_symbols_monitored",
			Help: "Количество отслеживаемых символов",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, signals, phaseChanges, exitReasons, trades)
	prometheus.MustRegister(equity, openPositions, symbolsMonitored)
}

// IncDecision учитывает действие FSM на тике
func IncDecision(action string) { decisions.WithLabelValues(action).Inc() }

// IncSignal учитывает входной сигнал
func IncSignal(side string) { signals.WithLabelValues(side).Inc() }

// IncPhaseChange учитывает смену фазы
func IncPhaseChange(phase string) { phaseChanges.WithLabelValues(phase).Inc() }

// IncExit учитывает закрытие позиции
func IncExit(reason, side string) { exitReasons.WithLabelValues(reason, side).Inc() }

// IncTradeOpened учитывает открытие сделки
func IncTradeOpened() { trades.WithLabelValues("open").Inc() }

// IncTradeClosed учитывает результат закрытой сделки
func IncTradeClosed(pnl float64) {
	if pnl >= 0 {
		trades.WithLabelValues("win").Inc()
	} else {
		trades.WithLabelValues("loss").Inc()
	}
}

// SetEquity обновляет снимок баланса
func SetEquity(v float64) { equity.Set(v) }

// SetOpenPositions обновляет количество открытых позиций
func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

// SetSymbolsMonitored обновляет количество отслеживаемых символов
func SetSymbolsMonitored(n int) { symbolsMonitored.Set(float64(n)) }

// Serve поднимает HTTP-сервер с /metrics. Блокирует, запускать в горутине.
func Serve(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("📊 Метрики доступны на :%s/metrics", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("❌ Сервер метрик: %v", err)
	}
}
