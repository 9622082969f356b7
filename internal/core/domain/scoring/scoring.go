// internal/core/domain/scoring/scoring.go
package scoring

import (
	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/core/domain/flow"
	"crypto-phase-trading-bot/internal/core/domain/indicators"
	"crypto-phase-trading-bot/internal/types"
)

// Config - веса и пороги оценки входа
type Config struct {
	MomentumMediumMax float64 // максимум вклада моментума среднего окна
	MomentumShortMax  float64 // максимум вклада моментума короткого окна
	TrendAlignBonus   float64
	OIConfirmBonus    float64
	FlowBonusMax      float64
	RSIExtremeBonus   float64
	RSIMildBonus      float64
	PhaseBonus        float64
	FundingBonus      float64
	FundingExtreme    float64 // порог экстремального фандинга, абсолютный
	KnifeMoveMult     float64 // множитель порога движения для "ножа"
	KnifePenalty      float64
	MinScoreBase      float64
	MinGapBase        float64
	RangeScoreBoost   float64 // ужесточение минимума во флете
	MajorScoreRelief  float64 // послабление минимума для мейджоров
}

// Inputs - входы оценки одного символа на текущем тике
type Inputs struct {
	Short      flow.WindowDeltas
	Medium     flow.WindowDeltas
	Long       flow.WindowDeltas
	Thresholds aggregator.Thresholds
	Phase      types.Phase
	RSI        float64
	RSIReady   bool
	Funding    float64
	Bias       indicators.TrendBias // глобальный тренд-фильтр (часовые MA)
	IsMajor    bool
}

// Contribution - вклад одного фактора, для объяснимости сигнала
type Contribution struct {
	Name  string
	Long  float64
	Short float64
}

// Result - итог оценки: пара оценок, сигнал и разложение по факторам
type Result struct {
	LongScore  float64
	ShortScore float64
	Signal     types.Side
	Factors    []Contribution
	MinScore   float64
	MinGap     float64
}

// factorFn считает вклад фактора в (long, short) независимо от остальных
type factorFn func(in Inputs, cfg Config) (float64, float64)

type factor struct {
	name string
	fn   factorFn
}

// factors - список факторов. Каждый оценивается независимо, итог - сумма.
// Новый фактор добавляется одной строкой, без правки логики накопления.
var factors = []factor{
	{"momentum_medium", momentumMedium},
	{"momentum_short", momentumShort},
	{"trend_align", trendAlign},
	{"oi_confirm", oiConfirm},
	{"flow", flowMagnitude},
	{"rsi_zone", rsiZone},
	{"phase", phaseBonus},
	{"funding", fundingContrarian},
}

// Score считает пару оценок LONG/SHORT в [0,100] и разрешает сигнал.
// Порядок: вето блоу-оффа -> гейт глобального тренда -> накопление
// факторов -> штраф за нож -> клэмп -> правило минимума и отрыва.
func Score(in Inputs, cfg Config) Result {
	res := Result{
		MinScore: minScoreFor(in, cfg),
		MinGap:   cfg.MinGapBase,
	}

	// Жесткое вето: в блоу-оффе не входим ни в какую сторону
	if in.Phase == types.PhaseBlowoff {
		return res
	}

	// Гейт глобального тренда: контртрендовая сторона не накапливает очки
	longAllowed := in.Bias != indicators.BiasBearish
	shortAllowed := in.Bias != indicators.BiasBullish

	for _, f := range factors {
		l, s := f.fn(in, cfg)
		if !longAllowed {
			l = 0
		}
		if !shortAllowed {
			s = 0
		}
		if l == 0 && s == 0 {
			continue
		}
		res.Factors = append(res.Factors, Contribution{Name: f.name, Long: l, Short: s})
		res.LongScore += l
		res.ShortScore += s
	}

	// Штраф за падающий нож / параболический выброс: не догоняем истощение
	knife := cfg.KnifeMoveMult * in.Thresholds.MovePct
	if knife > 0 {
		if in.Short.PriceChangePct <= -knife {
			res.LongScore -= cfg.KnifePenalty
			res.Factors = append(res.Factors, Contribution{Name: "knife_penalty", Long: -cfg.KnifePenalty})
		}
		if in.Short.PriceChangePct >= knife {
			res.ShortScore -= cfg.KnifePenalty
			res.Factors = append(res.Factors, Contribution{Name: "knife_penalty", Short: -cfg.KnifePenalty})
		}
	}

	res.LongScore = clamp(res.LongScore)
	res.ShortScore = clamp(res.ShortScore)
	res.Signal = resolve(res.LongScore, res.ShortScore, res.MinScore, res.MinGap)
	return res
}

// minScoreFor - минимальный порог с поправкой на фазу и класс символа:
// во флете требуем больше, мейджорам даем послабление
func minScoreFor(in Inputs, cfg Config) float64 {
	min := cfg.MinScoreBase
	if in.Phase == types.PhaseRange {
		min += cfg.RangeScoreBoost
	}
	if in.IsMajor {
		min -= cfg.MajorScoreRelief
	}
	return min
}

// resolve применяет правило сигнала: лучшая сторона проходит минимум
// И отрывается от противоположной не меньше чем на минимальный отрыв
func resolve(long, short, minScore, minGap float64) types.Side {
	if long >= minScore && long-short >= minGap {
		return types.SideLong
	}
	if short >= minScore && short-long >= minGap {
		return types.SideShort
	}
	return types.SideNone
}

func momentumMedium(in Inputs, cfg Config) (float64, float64) {
	return momentum(in.Medium.PriceChangePct, in.Thresholds.MovePct, cfg.MomentumMediumMax)
}

func momentumShort(in Inputs, cfg Config) (float64, float64) {
	return momentum(in.Short.PriceChangePct, in.Thresholds.MovePct, cfg.MomentumShortMax)
}

// momentum - вклад пропорционален |изменение|/порог, с насыщением на капе
func momentum(changePct, refMove, maxContrib float64) (float64, float64) {
	if refMove <= 0 || changePct == 0 {
		return 0, 0
	}
	contrib := abs(changePct) / refMove * maxContrib
	if contrib > maxContrib {
		contrib = maxContrib
	}
	if changePct > 0 {
		return contrib, 0
	}
	return 0, contrib
}

// trendAlign - бонус за согласие короткого и длинного окон по знаку
func trendAlign(in Inputs, cfg Config) (float64, float64) {
	s, l := in.Short.PriceChangePct, in.Long.PriceChangePct
	switch {
	case s > 0 && l > 0:
		return cfg.TrendAlignBonus, 0
	case s < 0 && l < 0:
		return 0, cfg.TrendAlignBonus
	default:
		return 0, 0
	}
}

// oiConfirm - бонус за расширение OI в сторону движения.
// Сжатие OI не штрафуется: сомневаемся, но не наказываем.
func oiConfirm(in Inputs, cfg Config) (float64, float64) {
	if in.Long.OIChangePct < in.Thresholds.OIPct {
		return 0, 0
	}
	if in.Long.PriceChangePct > 0 {
		return cfg.OIConfirmBonus, 0
	}
	if in.Long.PriceChangePct < 0 {
		return 0, cfg.OIConfirmBonus
	}
	return 0, 0
}

// flowMagnitude - бонус за поток относительно динамического порога
func flowMagnitude(in Inputs, cfg Config) (float64, float64) {
	if in.Thresholds.Flow <= 0 || in.Long.FlowSum == 0 {
		return 0, 0
	}
	contrib := abs(in.Long.FlowSum) / in.Thresholds.Flow * cfg.FlowBonusMax
	if contrib > cfg.FlowBonusMax {
		contrib = cfg.FlowBonusMax
	}
	if in.Long.FlowSum > 0 {
		return contrib, 0
	}
	return 0, contrib
}

// rsiZone - бонус за зону RSI: перепроданность в лонг, перекупленность
// в шорт, мягкие полосы 30-40 и 60-70 дают уменьшенный бонус
func rsiZone(in Inputs, cfg Config) (float64, float64) {
	if !in.RSIReady {
		return 0, 0
	}
	switch {
	case in.RSI <= 30:
		return cfg.RSIExtremeBonus, 0
	case in.RSI <= 40:
		return cfg.RSIMildBonus, 0
	case in.RSI >= 70:
		return 0, cfg.RSIExtremeBonus
	case in.RSI >= 60:
		return 0, cfg.RSIMildBonus
	default:
		return 0, 0
	}
}

// phaseBonus - накопление в пользу лонга, распределение в пользу шорта,
// тренд в пользу уже выявленного направления
func phaseBonus(in Inputs, cfg Config) (float64, float64) {
	switch in.Phase {
	case types.PhaseAccumulation:
		return cfg.PhaseBonus, 0
	case types.PhaseDistribution:
		return 0, cfg.PhaseBonus
	case types.PhaseTrend:
		if in.Long.PriceChangePct > 0 {
			return cfg.PhaseBonus, 0
		}
		if in.Long.PriceChangePct < 0 {
			return 0, cfg.PhaseBonus
		}
	}
	return 0, 0
}

// fundingContrarian - контрарный бонус: экстремально отрицательный фандинг
// в пользу лонга, экстремально положительный - шорта
func fundingContrarian(in Inputs, cfg Config) (float64, float64) {
	if cfg.FundingExtreme <= 0 {
		return 0, 0
	}
	if in.Funding <= -cfg.FundingExtreme {
		return cfg.FundingBonus, 0
	}
	if in.Funding >= cfg.FundingExtreme {
		return 0, cfg.FundingBonus
	}
	return 0, 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
