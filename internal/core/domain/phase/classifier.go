// internal/core/domain/phase/classifier.go
package phase

import (
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/core/domain/flow"
	"crypto-phase-trading-bot/internal/types"
)

// Config - параметры классификатора фаз
type Config struct {
	StaleFactor           float64 // допустимое превышение охвата длинного окна
	EmptyImpulseFrac      float64 // доля порогов для гварда пустого импульса
	DivergenceFrac        float64 // доля порогов для гварда дивергенции
	TrendStrongFactor     float64 // множитель "сильного" движения в чек-листе
	TrendChecklistMin     int     // минимум пунктов чек-листа (из 4)
	AccumPriceFrac        float64
	AccumOIFrac           float64
	FlowBiasFrac          float64 // доля порога потока, отделяющая нейтральный поток
	BlowoffPriceFrac      float64
	BlowoffOICollapseFrac float64
}

// Inputs - входы классификатора. Классификация - чистая функция входов,
// скрытого состояния нет.
type Inputs struct {
	Short      flow.WindowDeltas // ~5 снапшотов
	Medium     flow.WindowDeltas // ~15 снапшотов
	Long       flow.WindowDeltas // ~30 снапшотов
	Thresholds aggregator.Thresholds
	// Ожидаемый охват длинного окна по времени (окно * интервал тика)
	ExpectedLongSpan time.Duration
}

// Classify определяет фазу рынка. Гварды, подавляющие ложные сигналы
// тренда и блоу-оффа, проверяются раньше разрешающих веток - порядок
// веток значим, выигрывает первое совпадение.
func Classify(in Inputs, cfg Config) types.Phase {
	if !in.Long.Valid || !in.Medium.Valid || !in.Short.Valid {
		return types.PhaseRange
	}

	th := in.Thresholds
	priceAbs := abs(in.Long.PriceChangePct)
	oiAbs := abs(in.Long.OIChangePct)
	flowAbs := abs(in.Long.FlowSum)
	dir := sign(in.Long.PriceChangePct)

	// 1. Гвард устаревших данных: база длинного окна слишком старая
	if cfg.StaleFactor > 0 && in.ExpectedLongSpan > 0 {
		staleBound := time.Duration(float64(in.ExpectedLongSpan) * cfg.StaleFactor)
		if in.Long.Span > staleBound {
			return types.PhaseRange
		}
	}

	// 2. Гвард пустого импульса: цена прошла порог, но ни OI, ни поток
	// не подтверждают - выброс, не тренд
	if priceAbs >= th.MovePct &&
		oiAbs < th.OIPct*cfg.EmptyImpulseFrac &&
		flowAbs < th.Flow*cfg.EmptyImpulseFrac {
		return types.PhaseRange
	}

	// 3. Гвард дивергенции: цена и поток сильны, но смотрят в разные
	// стороны - риск разворота, не чистое движение
	if priceAbs >= th.MovePct*cfg.DivergenceFrac &&
		flowAbs >= th.Flow*cfg.DivergenceFrac &&
		dir != 0 && sign(in.Long.FlowSum) != 0 &&
		sign(in.Long.FlowSum) != dir {
		return types.PhaseRange
	}

	// 4. Тренд: движение с расширением OI, чек-лист и подтверждение потоком
	if priceAbs >= th.MovePct && in.Long.OIChangePct >= th.OIPct {
		score := trendChecklist(in, cfg, dir)
		flowConfirms := sign(in.Long.FlowSum) == dir &&
			flowAbs >= th.Flow*cfg.EmptyImpulseFrac

		if score >= cfg.TrendChecklistMin && flowConfirms {
			return types.PhaseTrend
		}
	}

	// 5. Накопление / распределение: цена стоит, OI растет
	if priceAbs < th.MovePct*cfg.AccumPriceFrac && in.Long.OIChangePct >= th.OIPct*cfg.AccumOIFrac {
		flowBias := th.Flow * cfg.FlowBiasFrac
		support := in.Medium.OIChangePct >= th.OIPct*cfg.EmptyImpulseFrac

		switch {
		case in.Long.FlowSum >= flowBias:
			return types.PhaseAccumulation
		case in.Long.FlowSum <= -flowBias:
			return types.PhaseDistribution
		case support && in.Medium.PriceChangePct >= 0:
			return types.PhaseAccumulation
		case support && in.Medium.PriceChangePct < 0:
			return types.PhaseDistribution
		}
	}

	// 6. Блоу-офф: сильное движение при схлопывании OI и развороте
	// короткого/среднего окна против длинного
	if priceAbs >= th.MovePct*cfg.BlowoffPriceFrac &&
		in.Medium.OIChangePct <= -th.OIPct*cfg.BlowoffOICollapseFrac {
		reversal := (dir != 0 && sign(in.Medium.PriceChangePct) == -dir) ||
			(dir != 0 && sign(in.Short.PriceChangePct) == -dir)
		if reversal {
			return types.PhaseBlowoff
		}
	}

	return types.PhaseRange
}

// trendChecklist - чек-лист тренда из 4 пунктов:
// сильное движение цены, сильное расширение OI, свежий моментум
// короткого/среднего окна в ту же сторону, расширение OI среднего окна
func trendChecklist(in Inputs, cfg Config, dir int) int {
	th := in.Thresholds
	score := 0

	if abs(in.Long.PriceChangePct) >= th.MovePct*cfg.TrendStrongFactor {
		score++
	}
	if in.Long.OIChangePct >= th.OIPct*cfg.TrendStrongFactor {
		score++
	}

	freshShort := sign(in.Short.PriceChangePct) == dir &&
		abs(in.Short.PriceChangePct) >= th.MovePct*cfg.EmptyImpulseFrac*0.5
	freshMedium := sign(in.Medium.PriceChangePct) == dir &&
		abs(in.Medium.PriceChangePct) >= th.MovePct*cfg.EmptyImpulseFrac
	if freshShort || freshMedium {
		score++
	}

	if in.Medium.OIChangePct >= th.OIPct*cfg.EmptyImpulseFrac {
		score++
	}

	return score
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
