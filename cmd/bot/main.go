// cmd/bot/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crypto-phase-trading-bot/application/pipeline"
	"crypto-phase-trading-bot/application/scheduler"
	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/executor"
	"crypto-phase-trading-bot/internal/infrastructure/api/exchanges/bybit"
	"crypto-phase-trading-bot/internal/infrastructure/api/exchanges/bybit/ws"
	redis_service "crypto-phase-trading-bot/internal/infrastructure/cache/redis"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/postgres"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/postgres/repository/signals"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/postgres/repository/trades"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/redis_storage"
	events "crypto-phase-trading-bot/internal/infrastructure/transport/event_bus"
	"crypto-phase-trading-bot/internal/notifier"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
	"crypto-phase-trading-bot/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Невалидная конфигурация: %v", err)
	}

	if err := logger.InitGlobal(cfg.LogFile, cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}

	printHeader(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Биржевой клиент
	client := bybit.NewClient(bybit.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.ApiKey,
		APISecret: cfg.ApiSecret,
	})
	if err := client.TestConnection(ctx); err != nil {
		logger.Error("❌ Биржа недоступна: %v", err)
		os.Exit(1)
	}
	logger.Info("✅ Соединение с биржей установлено (%s)", cfg.BaseURL)

	symbols, err := selectSymbols(ctx, cfg, client)
	if err != nil {
		logger.Error("❌ Не удалось выбрать символы: %v", err)
		os.Exit(1)
	}
	logger.Info("📊 Мониторинг %d символов: %s", len(symbols), strings.Join(symbols, ", "))
	metrics.SetSymbolsMonitored(len(symbols))

	// Redis: хранилище снапшотов, необязательное
	var snapshots pipeline.SnapshotStore
	var snapshotStorage *redis_storage.SnapshotStorage
	redisService := redis_service.NewRedisService(redis_service.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisService.Start(); err != nil {
		logger.Warn("⚠️ Redis недоступен, снапшоты не сохраняются: %v", err)
	} else {
		defer redisService.Stop()
		if snapshotStorage, err = redis_storage.NewSnapshotStorage(redisService); err != nil {
			logger.Warn("⚠️ Хранилище снапшотов не создано: %v", err)
		} else {
			snapshots = snapshotStorage
		}
	}

	// Postgres: журналы сделок и сигналов, необязательные
	var saveTrade func(types.ClosedTrade) error
	var saveSignal func(types.SignalDetectedData) error
	if cfg.PostgresEnabled {
		db, err := postgres.Connect(&postgres.Config{
			Host:     cfg.PgHost,
			Port:     cfg.PgPort,
			User:     cfg.PgUser,
			Password: cfg.PgPassword,
			Database: cfg.PgDatabase,
			SSLMode:  cfg.PgSSLMode,
			MaxConns: 25,
			MaxIdle:  10,
		})
		if err != nil {
			logger.Warn("⚠️ Postgres недоступен, журналы отключены: %v", err)
		} else {
			defer db.Close()
			tradesRepo := trades.NewTradesRepository(db)
			signalsRepo := signals.NewSignalsRepository(db)
			saveTrade = tradesRepo.Save
			saveSignal = func(data types.SignalDetectedData) error {
				return signalsRepo.Save(data.Symbol, data.Side, data.Snapshot)
			}
		}
	}

	// Шина событий и уведомления
	notificationService := notifier.FromConfig(cfg)
	factory := &events.Factory{}
	bus := factory.NewEventBusFromConfig(cfg)
	factory.RegisterDefaultSubscribers(bus, notificationService, saveTrade, saveSignal)
	bus.Start()
	defer bus.Stop()

	if cfg.MetricsEnabled {
		go metrics.Serve(cfg.MetricsPort)
	}

	// Поток сделок: каждому тику достается поток ровно за один интервал,
	// суммы по окну кольца тогда дают честный CVD окна, как в реплее
	watcher := ws.NewTradeWatcher(cfg.WsURL, symbols, cfg.TickInterval)
	watcher.Start()
	defer watcher.Stop()

	// Исполнитель и пайплайн
	exec := executor.NewLive(client, executor.LiveConfig{
		RiskPerTrade: cfg.RiskPerTrade,
		TakerFeeRate: cfg.TakerFeeRate,
	})
	pipe := pipeline.NewPipeline(cfg, bus, exec, snapshots)
	if err := pipe.Bootstrap(ctx, symbols); err != nil {
		logger.Error("❌ Восстановление позиций: %v", err)
		os.Exit(1)
	}

	sched := scheduler.New()
	registerJobs(sched, cfg, client, watcher, exec, pipe, snapshotStorage, symbols)
	sched.Start()
	defer sched.Stop()

	logger.Info("🚀 Бот запущен, торговля: %v", cfg.TradingEnabled)

	<-ctx.Done()
	logger.Info("🛑 Получен сигнал завершения, останавливаемся...")
}

// selectSymbols выбирает торгуемые символы: явный фильтр из конфига
// или топ ликвидных пар биржи, минус исключения
func selectSymbols(ctx context.Context, cfg *config.Config, client *bybit.Client) ([]string, error) {
	var symbols []string

	if cfg.SymbolFilter != "" && !strings.EqualFold(cfg.SymbolFilter, "all") {
		for _, s := range strings.Split(cfg.SymbolFilter, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	} else {
		top, err := client.GetTopLiquidSymbols(ctx, cfg.MaxSymbolsToMonitor)
		if err != nil {
			return nil, err
		}
		symbols = top
	}

	excluded := make(map[string]bool)
	for _, s := range strings.Split(cfg.ExcludeSymbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			excluded[strings.ToUpper(s)] = true
		}
	}

	filtered := symbols[:0]
	for _, s := range symbols {
		if !excluded[s] {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("после фильтрации не осталось символов")
	}
	return filtered, nil
}

// registerJobs вешает периодические задачи: тик пайплайна, обновление
// часовой серии, сверку позиций с биржей и чистку старых снапшотов
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	client *bybit.Client,
	watcher *ws.TradeWatcher,
	exec executor.Executor,
	pipe *pipeline.Pipeline,
	snapshots *redis_storage.SnapshotStorage,
	symbols []string,
) {
	// Свой таймер на каждый символ: медленный снапшот одного не
	// задерживает тики остальных, планировщик сам не дает тикам
	// одного символа наезжать друг на друга
	for _, symbol := range symbols {
		symbol := symbol
		sched.Register(&scheduler.Job{
			Name:        "tick_" + symbol,
			Description: "снапшот и тик пайплайна " + symbol,
			Schedule:    scheduler.Every(cfg.TickInterval),
			Timeout:     cfg.TickInterval,
			Handler: func(ctx context.Context) error {
				snap, err := client.GetSnapshot(ctx, symbol)
				if err != nil {
					logger.Warn("⚠️ Снапшот %s: %v", symbol, err)
					return nil
				}
				snap.CVDShort = watcher.Flow(symbol)

				if _, err := pipe.ProcessTick(ctx, snap); err != nil {
					logger.Error("❌ Тик %s: %v", symbol, err)
				}
				return nil
			},
		})
	}

	sched.Register(&scheduler.Job{
		Name:        "hourly_refresh",
		Description: "обновление часовой серии тренд-фильтра",
		Schedule:    scheduler.Every(cfg.HourlyRefreshEvery),
		Handler: func(ctx context.Context) error {
			to := time.Now().UTC()
			from := to.Add(-time.Duration(cfg.HourlyHistoryLimit) * time.Hour)
			for _, symbol := range symbols {
				candles, err := client.GetKlines(ctx, symbol, cfg.HourlyPeriod, from, to, cfg.HourlyHistoryLimit)
				if err != nil {
					logger.Warn("⚠️ Часовые свечи %s: %v", symbol, err)
					continue
				}
				pipe.UpdateHourly(symbol, candles)
			}
			return nil
		},
	})

	sched.Register(&scheduler.Job{
		Name:        "position_sync",
		Description: "сверка позиций с биржевой истиной",
		Schedule:    scheduler.Every(5 * time.Minute),
		Handler: func(ctx context.Context) error {
			now := time.Now().UTC()
			open := 0
			for _, symbol := range symbols {
				had := exec.HasExposure(symbol)
				if err := exec.SyncSymbol(ctx, symbol); err != nil {
					logger.Warn("⚠️ Сверка %s: %v", symbol, err)
					continue
				}
				// Позиция закрылась на бирже (стоп) - машина узнает об этом здесь
				if had && !exec.HasExposure(symbol) {
					pipe.NotifyClosed(symbol, now)
				}
				if exec.HasExposure(symbol) {
					open++
				}
			}
			metrics.SetOpenPositions(open)

			if balance, err := client.WalletBalance(ctx); err == nil {
				metrics.SetEquity(balance)
			}
			return nil
		},
	})

	if snapshots != nil {
		sched.Register(&scheduler.Job{
			Name:        "snapshot_cleanup",
			Description: "чистка снапшотов старше 48 часов",
			Schedule:    scheduler.DailyAt(0, 15),
			Handler: func(ctx context.Context) error {
				for _, symbol := range symbols {
					removed, err := snapshots.Cleanup(ctx, symbol, 48*time.Hour)
					if err != nil {
						logger.Warn("⚠️ Чистка снапшотов %s: %v", symbol, err)
						continue
					}
					if removed > 0 {
						logger.Debug("💾 %s: удалено %d старых снапшотов", symbol, removed)
					}
				}
				return nil
			},
		})
	}
}

func printHeader(cfg *config.Config) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("  ФАЗОВЫЙ ТОРГОВЫЙ БОТ ПО ФЬЮЧЕРСАМ")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("🔧 Конфигурация:\n")
	fmt.Printf("   Сеть: %s\n", map[bool]string{true: "Testnet 🧪", false: "Mainnet ⚡"}[cfg.UseTestnet])
	fmt.Printf("   Торговля: %v\n", cfg.TradingEnabled)
	fmt.Printf("   Тик: %s, окна: %d/%d/%d\n", cfg.TickInterval, cfg.WindowShort, cfg.WindowMedium, cfg.WindowLong)
	fmt.Printf("   Риск на сделку: %.1f%%, стоп-пол: %.1f%%\n", cfg.RiskPerTrade*100, cfg.StopFloorPct)
	fmt.Printf("   Уведомления: %s\n", cfg.NotifierKind)
	fmt.Println()
}
