// cmd/backtest/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"crypto-phase-trading-bot/internal/backtest"
	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/infrastructure/api/exchanges/bybit"
	redis_service "crypto-phase-trading-bot/internal/infrastructure/cache/redis"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/clickhouse"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/redis_storage"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "BTCUSDT", "символы через запятую")
		fromFlag    = flag.String("from", "", "начало периода, YYYY-MM-DD")
		toFlag      = flag.String("to", "", "конец периода, YYYY-MM-DD (по умолчанию сейчас)")
		daysFlag    = flag.Int("days", 7, "глубина истории в днях, если from не задан")
		outFlag     = flag.String("out", "", "файл для JSON-отчета (опционально)")
		envFlag     = flag.String("env", ".env", "путь к .env")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*envFlag)
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}
	if err := logger.InitGlobal(cfg.LogFile, cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}

	from, to, err := parsePeriod(*fromFlag, *toFlag, *daysFlag)
	if err != nil {
		log.Fatalf("Невалидный период: %v", err)
	}

	var symbols []types.Symbol
	for _, s := range strings.Split(*symbolsFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, strings.ToUpper(s))
		}
	}
	if len(symbols) == 0 {
		log.Fatal("Не задано ни одного символа")
	}

	ctx := context.Background()
	source := buildSource(cfg)

	report, err := backtest.NewRunner(cfg, source).Run(ctx, symbols, from, to)
	if err != nil {
		logger.Error("❌ Реплей не удался: %v", err)
		os.Exit(1)
	}

	printReport(report)

	if *outFlag != "" {
		if err := writeJSON(*outFlag, report); err != nil {
			logger.Error("❌ Отчет не записан: %v", err)
			os.Exit(1)
		}
		logger.Info("💾 Отчет сохранен в %s", *outFlag)
	}
}

// buildSource собирает источник истории: ClickHouse при наличии склада,
// иначе биржевой REST, в обоих случаях с кэшем Redis поверх, если он жив
func buildSource(cfg *config.Config) backtest.HistorySource {
	var source backtest.HistorySource

	if cfg.ClickHouseEnabled {
		ch, err := clickhouse.NewSource(clickhouse.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logger.Warn("⚠️ ClickHouse недоступен, история через биржу: %v", err)
		} else {
			source = ch
		}
	}

	if source == nil {
		source = backtest.NewBybitSource(bybit.NewClient(bybit.Config{BaseURL: cfg.BaseURL}))
	}

	redisService := redis_service.NewRedisService(redis_service.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisService.Start(); err != nil {
		logger.Debug("Redis недоступен, история без кэша: %v", err)
		return source
	}

	cache, err := redis_storage.NewCandleCache(redisService, cfg.CandleCacheTTL)
	if err != nil {
		logger.Warn("⚠️ Кэш свечей не создан: %v", err)
		return source
	}
	return backtest.NewCachedSource(cache, source)
}

func parsePeriod(fromStr, toStr string, days int) (time.Time, time.Time, error) {
	to := time.Now().UTC().Truncate(time.Minute)
	if toStr != "" {
		parsed, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -days)
	if fromStr != "" {
		parsed, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		from = parsed
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s должен быть раньше to %s", from, to)
	}
	return from, to, nil
}

func printReport(report *backtest.Report) {
	stats := report.Stats

	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  РЕЗУЛЬТАТ РЕПЛЕЯ  %s - %s\n",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Сделок:        %d (побед %d, поражений %d, winrate %.1f%%)\n",
		stats.Trades, stats.Wins, stats.Losses, stats.WinRate)
	fmt.Printf("PnL:           %.2f USD (комиссии %.2f USD)\n", stats.PnLNet, stats.Fees)
	fmt.Printf("Капитал:       %.2f USD\n", stats.FinalEquity)
	fmt.Printf("Макс. просадка: %.2f%%\n", stats.MaxDrawdownPct)

	if len(stats.ByReason) > 0 {
		fmt.Println("\nПричины закрытия:")
		reasons := make([]types.CloseReason, 0, len(stats.ByReason))
		for r := range stats.ByReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		for _, r := range reasons {
			fmt.Printf("  %-28s %d\n", r, stats.ByReason[r])
		}
	}

	if len(report.Quality) > 0 {
		fmt.Println("\nКачество истории:")
		syms := make([]types.Symbol, 0, len(report.Quality))
		for s := range report.Quality {
			syms = append(syms, s)
		}
		sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
		for _, s := range syms {
			q := report.Quality[s]
			fmt.Printf("  %-12s свечей %d, дыр %d, дублей %d\n", s, q.Total, q.Gaps, q.Duplicates)
		}
	}
	fmt.Println()
}

func writeJSON(path string, report *backtest.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
