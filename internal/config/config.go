// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - структура конфигурации приложения.
// Все числовые константы решающей логики (пороги, веса, окна, комиссии)
// живут здесь, а не в коде.
type Config struct {
	// API Keys
	ApiKey    string
	ApiSecret string
	BaseURL   string
	WsURL     string

	// Trading Settings
	UseTestnet     bool
	TradingEnabled bool

	// Символы
	SymbolFilter        string
	ExcludeSymbols      string
	MaxSymbolsToMonitor int
	MinVolumeFilter     float64
	MajorSymbols        []string // символы класса "мажоров" с отдельными порогами

	// Тики
	TickInterval     time.Duration // интервал тика пайплайна на символ
	SnapshotCapacity int           // размер кольцевого буфера снапшотов на символ

	// Агрегатор свечей
	CandlePeriod       string // базовый период свечей
	HourlyPeriod       string // период медленного агрегатора
	CandleHistoryCap   int    // максимум закрытых свечей в истории
	ATRPeriod          int    // период ATR (сглаживание Уайлдера)
	AvgVolumeWindow    int    // окно среднего объема (K закрытых свечей)
	HourlyRefreshEvery time.Duration
	HourlyHistoryLimit int

	// Динамические пороги
	ATRMoveMult    float64 // k1: множитель ATR%-порога движения
	MoveFloorPct   float64 // floor1: минимальный порог движения, %
	VolumeFlowMult float64 // k2: множитель порога потока от среднего объема
	FlowFloor      float64 // floor2: минимальный порог потока
	OIMoveFactor   float64 // доля порога движения для порога OI
	OIFloorPct     float64 // минимальный порог OI, %

	// Классификатор фаз
	WindowShort           int     // короткое окно, в снапшотах
	WindowMedium          int     // среднее окно
	WindowLong            int     // длинное окно
	StaleFactor           float64 // во сколько раз возраст базы может превышать окно
	EmptyImpulseFrac      float64 // доля порогов OI/потока для гварда пустого импульса
	DivergenceFrac        float64 // доля порогов для гварда дивергенции
	TrendChecklistMin     int     // минимум пунктов чек-листа тренда (из 4)
	TrendStrongFactor     float64 // множитель "сильного" движения в чек-листе
	AccumPriceFrac        float64 // цена < этой доли порога движения
	AccumOIFrac           float64 // OI >= этой доли порога OI
	FlowBiasFrac          float64 // доля порога потока, отделяющая нейтральный поток
	BlowoffPriceFrac      float64 // цена >= этой доли порога движения
	BlowoffOICollapseFrac float64 // схлопывание OI <= -эта доля порога

	// Оценка входа
	RSIPeriod         int
	MomentumMediumMax float64 // максимум вклада среднего моментума
	MomentumShortMax  float64 // максимум вклада короткого моментума
	TrendAlignBonus   float64
	OIConfirmBonus    float64
	FlowBonusMax      float64
	RSIExtremeBonus   float64 // перепроданность/перекупленность
	RSIMildBonus      float64 // мягкие зоны
	PhaseBonus        float64
	FundingBonus      float64
	FundingExtreme    float64 // |funding| выше - контртрендовый бонус
	KnifeMoveMult     float64 // короткое движение против стороны > порог*этот множитель
	KnifePenalty      float64 // штраф "падающего ножа"
	MinScoreBase      float64 // базовый минимальный балл для сигнала
	MinGapBase        float64 // базовый минимальный разрыв между сторонами
	RangeScoreBoost   float64 // ужесточение порога в range
	MajorScoreRelief  float64 // послабление порога для мажоров
	TrendMAFast       int     // быстрая MA часового тренд-фильтра
	TrendMASlow       int     // медленная MA часового тренд-фильтра

	// FSM
	CooldownAfterExit  time.Duration
	SetupMaxAge        time.Duration
	ConfirmMinMoveFrac float64 // подтверждение: минимум движения, доля порога
	ConfirmMaxMoveFrac float64 // подтверждение: "не поздно ли", доля порога
	ConfirmMinFlowFrac float64 // подтверждение: минимум потока, доля порога
	ConfirmMinDensity  float64 // минимум потока на процент движения
	MaxHoldTime        time.Duration

	// Выход
	StopATRMult        float64 // стоп = max(ATR% * mult, StopFloorPct)
	StopFloorPct       float64
	TakeProfitPct      float64
	ExitFundingExtreme float64
	FlowReversalMult   float64 // поток против позиции > порог*этот множитель
	OpposingScoreBar   float64 // разворот структуры
	HoldCapRange       time.Duration
	HoldCapTrend       time.Duration
	NegligiblePnLPct   float64
	MicroProfitPct     float64 // грейс-зона микроприбыли
	WeakBodyRatio      float64 // тело/диапазон ниже - свеча слабая

	// Бэктест
	TakerFeeRate     float64
	RiskPerTrade     float64 // доля баланса, рискуемая в сделке
	InitialEquity    float64
	CandleCacheTTL   time.Duration
	ReplayResolution string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres
	PostgresEnabled bool
	PgHost          string
	PgPort          int
	PgUser          string
	PgPassword      string
	PgDatabase      string
	PgSSLMode       string

	// ClickHouse (опциональный источник истории для бэктестов)
	ClickHouseEnabled  bool
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	// Шина событий
	EventBusBufferSize int
	EventBusWorkers    int

	// Уведомления
	TelegramToken  string
	TelegramChatID int64
	NotifierKind   string // "console" или "telegram"

	// Метрики
	MetricsEnabled bool
	MetricsPort    string

	// Логирование
	LogLevel string
	LogFile  string
	Debug    bool
}

// LoadConfig загружает конфигурацию из .env файла
func LoadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
	}

	useTestnet := getEnvBool("USE_TESTNET", true)

	var baseURL, wsURL string
	if useTestnet {
		baseURL = getEnvString("BYBIT_API_TEST_URL", "https://api-testnet.bybit.com")
		wsURL = getEnvString("BYBIT_WS_TEST_URL", "wss://stream-testnet.bybit.com/v5/public/linear")
	} else {
		baseURL = getEnvString("BYBIT_API_URL", "https://api.bybit.com")
		wsURL = getEnvString("BYBIT_WS_URL", "wss://stream.bybit.com/v5/public/linear")
	}

	config := &Config{
		ApiKey:    getEnvString("BYBIT_API_KEY", ""),
		ApiSecret: getEnvString("BYBIT_SECRET_KEY", ""),
		BaseURL:   baseURL,
		WsURL:     wsURL,

		UseTestnet:     useTestnet,
		TradingEnabled: getEnvBool("TRADING_ENABLED", false),

		SymbolFilter:        getEnvString("SYMBOL_FILTER", ""),
		ExcludeSymbols:      getEnvString("EXCLUDE_SYMBOLS", ""),
		MaxSymbolsToMonitor: getEnvInt("MAX_SYMBOLS_TO_MONITOR", 30),
		MinVolumeFilter:     getEnvFloat("MIN_VOLUME_FILTER", 10000000),
		MajorSymbols:        parseList(getEnvString("MAJOR_SYMBOLS", "BTCUSDT,ETHUSDT")),

		TickInterval:     time.Duration(getEnvInt("TICK_INTERVAL_SEC", 60)) * time.Second,
		SnapshotCapacity: getEnvInt("SNAPSHOT_CAPACITY", 120),

		CandlePeriod:       getEnvString("CANDLE_PERIOD", "1m"),
		HourlyPeriod:       getEnvString("HOURLY_PERIOD", "1h"),
		CandleHistoryCap:   getEnvInt("CANDLE_HISTORY_CAP", 500),
		ATRPeriod:          getEnvInt("ATR_PERIOD", 14),
		AvgVolumeWindow:    getEnvInt("AVG_VOLUME_WINDOW", 20),
		HourlyRefreshEvery: time.Duration(getEnvInt("HOURLY_REFRESH_MIN", 15)) * time.Minute,
		HourlyHistoryLimit: getEnvInt("HOURLY_HISTORY_LIMIT", 200),

		ATRMoveMult:    getEnvFloat("ATR_MOVE_MULT", 1.5),
		MoveFloorPct:   getEnvFloat("MOVE_FLOOR_PCT", 0.6),
		VolumeFlowMult: getEnvFloat("VOLUME_FLOW_MULT", 0.25),
		FlowFloor:      getEnvFloat("FLOW_FLOOR", 1000),
		OIMoveFactor:   getEnvFloat("OI_MOVE_FACTOR", 0.5),
		OIFloorPct:     getEnvFloat("OI_FLOOR_PCT", 0.4),

		WindowShort:           getEnvInt("WINDOW_SHORT", 5),
		WindowMedium:          getEnvInt("WINDOW_MEDIUM", 15),
		WindowLong:            getEnvInt("WINDOW_LONG", 30),
		StaleFactor:           getEnvFloat("STALE_FACTOR", 2.0),
		EmptyImpulseFrac:      getEnvFloat("EMPTY_IMPULSE_FRAC", 0.4),
		DivergenceFrac:        getEnvFloat("DIVERGENCE_FRAC", 0.8),
		TrendChecklistMin:     getEnvInt("TREND_CHECKLIST_MIN", 3),
		TrendStrongFactor:     getEnvFloat("TREND_STRONG_FACTOR", 1.25),
		AccumPriceFrac:        getEnvFloat("ACCUM_PRICE_FRAC", 0.6),
		AccumOIFrac:           getEnvFloat("ACCUM_OI_FRAC", 0.7),
		FlowBiasFrac:          getEnvFloat("FLOW_BIAS_FRAC", 0.2),
		BlowoffPriceFrac:      getEnvFloat("BLOWOFF_PRICE_FRAC", 0.85),
		BlowoffOICollapseFrac: getEnvFloat("BLOWOFF_OI_COLLAPSE_FRAC", 0.7),

		RSIPeriod:         getEnvInt("RSI_PERIOD", 14),
		MomentumMediumMax: getEnvFloat("MOMENTUM_MEDIUM_MAX", 25),
		MomentumShortMax:  getEnvFloat("MOMENTUM_SHORT_MAX", 15),
		TrendAlignBonus:   getEnvFloat("TREND_ALIGN_BONUS", 10),
		OIConfirmBonus:    getEnvFloat("OI_CONFIRM_BONUS", 10),
		FlowBonusMax:      getEnvFloat("FLOW_BONUS_MAX", 15),
		RSIExtremeBonus:   getEnvFloat("RSI_EXTREME_BONUS", 15),
		RSIMildBonus:      getEnvFloat("RSI_MILD_BONUS", 7),
		PhaseBonus:        getEnvFloat("PHASE_BONUS", 15),
		FundingBonus:      getEnvFloat("FUNDING_BONUS", 10),
		FundingExtreme:    getEnvFloat("FUNDING_EXTREME", 0.0005),
		KnifeMoveMult:     getEnvFloat("KNIFE_MOVE_MULT", 2.0),
		KnifePenalty:      getEnvFloat("KNIFE_PENALTY", 40),
		MinScoreBase:      getEnvFloat("MIN_SCORE_BASE", 65),
		MinGapBase:        getEnvFloat("MIN_GAP_BASE", 10),
		RangeScoreBoost:   getEnvFloat("RANGE_SCORE_BOOST", 5),
		MajorScoreRelief:  getEnvFloat("MAJOR_SCORE_RELIEF", 5),
		TrendMAFast:       getEnvInt("TREND_MA_FAST", 20),
		TrendMASlow:       getEnvInt("TREND_MA_SLOW", 50),

		CooldownAfterExit:  time.Duration(getEnvInt("COOLDOWN_AFTER_EXIT_MIN", 30)) * time.Minute,
		SetupMaxAge:        time.Duration(getEnvInt("SETUP_MAX_AGE_MIN", 10)) * time.Minute,
		ConfirmMinMoveFrac: getEnvFloat("CONFIRM_MIN_MOVE_FRAC", 0.25),
		ConfirmMaxMoveFrac: getEnvFloat("CONFIRM_MAX_MOVE_FRAC", 1.5),
		ConfirmMinFlowFrac: getEnvFloat("CONFIRM_MIN_FLOW_FRAC", 0.5),
		ConfirmMinDensity:  getEnvFloat("CONFIRM_MIN_DENSITY", 0.3),
		MaxHoldTime:        time.Duration(getEnvInt("MAX_HOLD_TIME_MIN", 480)) * time.Minute,

		StopATRMult:        getEnvFloat("STOP_ATR_MULT", 1.8),
		StopFloorPct:       getEnvFloat("STOP_FLOOR_PCT", 1.2),
		TakeProfitPct:      getEnvFloat("TAKE_PROFIT_PCT", 2.5),
		ExitFundingExtreme: getEnvFloat("EXIT_FUNDING_EXTREME", 0.001),
		FlowReversalMult:   getEnvFloat("FLOW_REVERSAL_MULT", 1.5),
		OpposingScoreBar:   getEnvFloat("OPPOSING_SCORE_BAR", 75),
		HoldCapRange:       time.Duration(getEnvInt("HOLD_CAP_RANGE_MIN", 120)) * time.Minute,
		HoldCapTrend:       time.Duration(getEnvInt("HOLD_CAP_TREND_MIN", 360)) * time.Minute,
		NegligiblePnLPct:   getEnvFloat("NEGLIGIBLE_PNL_PCT", 0.3),
		MicroProfitPct:     getEnvFloat("MICRO_PROFIT_PCT", 0.4),
		WeakBodyRatio:      getEnvFloat("WEAK_BODY_RATIO", 0.35),

		TakerFeeRate:     getEnvFloat("TAKER_FEE_RATE", 0.00055),
		RiskPerTrade:     getEnvFloat("RISK_PER_TRADE", 0.01),
		InitialEquity:    getEnvFloat("INITIAL_EQUITY", 10000),
		CandleCacheTTL:   time.Duration(getEnvInt("CANDLE_CACHE_TTL_MIN", 720)) * time.Minute,
		ReplayResolution: getEnvString("REPLAY_RESOLUTION", "1m"),

		RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PostgresEnabled: getEnvBool("POSTGRES_ENABLED", false),
		PgHost:          getEnvString("DB_HOST", "localhost"),
		PgPort:          getEnvInt("DB_PORT", 5432),
		PgUser:          getEnvString("DB_USER", "tradingbot"),
		PgPassword:      getEnvString("DB_PASSWORD", "password"),
		PgDatabase:      getEnvString("DB_NAME", "tradingbot_db"),
		PgSSLMode:       getEnvString("DB_SSLMODE", "disable"),

		ClickHouseEnabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
		ClickHouseAddr:     getEnvString("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getEnvString("CLICKHOUSE_DB", "market"),
		ClickHouseUser:     getEnvString("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnvString("CLICKHOUSE_PASSWORD", ""),

		EventBusBufferSize: getEnvInt("EVENT_BUS_BUFFER_SIZE", 1000),
		EventBusWorkers:    getEnvInt("EVENT_BUS_WORKERS", 4),

		TelegramToken:  getEnvString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
		NotifierKind:   getEnvString("NOTIFIER", "console"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsPort:    getEnvString("METRICS_PORT", "9091"),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  getEnvString("LOG_FILE", "logs/bot.log"),
		Debug:    getEnvBool("DEBUG", false),
	}

	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.TradingEnabled && (c.ApiKey == "" || c.ApiSecret == "") {
		return fmt.Errorf("API keys are required when trading is enabled")
	}

	if c.TickInterval < time.Second {
		return fmt.Errorf("tick interval must be at least 1 second")
	}

	if c.WindowShort <= 0 || c.WindowMedium <= c.WindowShort || c.WindowLong <= c.WindowMedium {
		return fmt.Errorf("windows must satisfy 0 < short < medium < long")
	}

	if c.SnapshotCapacity <= c.WindowLong {
		return fmt.Errorf("snapshot capacity must exceed the long window")
	}

	if c.ATRPeriod < 2 {
		return fmt.Errorf("ATR period must be at least 2")
	}

	if c.StopFloorPct <= 0 {
		return fmt.Errorf("stop floor must be positive")
	}

	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.1 {
		return fmt.Errorf("risk per trade must be in (0, 0.1]")
	}

	if c.TakerFeeRate < 0 {
		return fmt.Errorf("taker fee rate must not be negative")
	}

	if c.MinScoreBase <= 0 || c.MinScoreBase > 100 {
		return fmt.Errorf("minimum score must be in (0, 100]")
	}

	if c.ConfirmMaxMoveFrac <= c.ConfirmMinMoveFrac {
		return fmt.Errorf("confirmation band is empty: max move frac <= min move frac")
	}

	return nil
}

// IsMajor возвращает true для символов класса мажоров
func (c *Config) IsMajor(symbol string) bool {
	for _, s := range c.MajorSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Вспомогательные функции для парсинга переменных окружения

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
