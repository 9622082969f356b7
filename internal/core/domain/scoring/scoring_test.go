// internal/core/domain/scoring/scoring_test.go
package scoring

import (
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/core/domain/flow"
	"crypto-phase-trading-bot/internal/core/domain/indicators"
	"crypto-phase-trading-bot/internal/types"
)

func testCfg() Config {
	return Config{
		MomentumMediumMax: 25,
		MomentumShortMax:  15,
		TrendAlignBonus:   10,
		OIConfirmBonus:    10,
		FlowBonusMax:      15,
		RSIExtremeBonus:   15,
		RSIMildBonus:      7,
		PhaseBonus:        15,
		FundingBonus:      10,
		FundingExtreme:    0.0005,
		KnifeMoveMult:     2.0,
		KnifePenalty:      40,
		MinScoreBase:      65,
		MinGapBase:        10,
		RangeScoreBoost:   5,
		MajorScoreRelief:  5,
	}
}

func deltas(price, oi, flowSum float64) flow.WindowDeltas {
	return flow.WindowDeltas{
		PriceChangePct: price, OIChangePct: oi, FlowSum: flowSum,
		Span: 30 * time.Minute, Valid: true,
	}
}

func bullishInputs() Inputs {
	return Inputs{
		Short:      deltas(0.6, 0.2, 400),
		Medium:     deltas(1.2, 0.4, 900),
		Long:       deltas(1.8, 0.8, 1500),
		Thresholds: aggregator.Thresholds{MovePct: 1.0, OIPct: 0.5, Flow: 1000},
		Phase:      types.PhaseTrend,
		RSI:        35,
		RSIReady:   true,
		Funding:    -0.0008,
		Bias:       indicators.BiasNeutral,
	}
}

func TestBlowoffHardVeto(t *testing.T) {
	in := bullishInputs()
	in.Phase = types.PhaseBlowoff

	res := Score(in, testCfg())
	if res.LongScore != 0 || res.ShortScore != 0 {
		t.Errorf("блоу-офф должен обнулять обе оценки, получили %f/%f", res.LongScore, res.ShortScore)
	}
	if res.Signal != types.SideNone {
		t.Errorf("в блоу-оффе сигнала быть не должно, получили %s", res.Signal)
	}
}

func TestBullishScenarioSignalsLong(t *testing.T) {
	res := Score(bullishInputs(), testCfg())

	if res.LongScore <= res.ShortScore {
		t.Fatalf("лонг должен доминировать: %f против %f", res.LongScore, res.ShortScore)
	}
	if res.Signal != types.SideLong {
		t.Errorf("ожидали сигнал LONG, получили %s (оценки %f/%f, минимум %f)",
			res.Signal, res.LongScore, res.ShortScore, res.MinScore)
	}
	if len(res.Factors) == 0 {
		t.Error("разложение по факторам не должно быть пустым")
	}
}

func TestSignalRuleMinScoreAndGap(t *testing.T) {
	cfg := testCfg()

	// 70/20 при минимуме 65 и отрыве 10 - LONG
	if got := resolve(70, 20, 65, 10); got != types.SideLong {
		t.Errorf("70/20 должно давать LONG, получили %s", got)
	}
	// 70/65 - отрыв не набран, сигнала нет
	if got := resolve(70, 65, 65, 10); got != types.SideNone {
		t.Errorf("70/65 должно давать NONE, получили %s", got)
	}
	// 60/20 - минимум не набран
	if got := resolve(60, 20, cfg.MinScoreBase, cfg.MinGapBase); got != types.SideNone {
		t.Errorf("60/20 должно давать NONE, получили %s", got)
	}
	// Симметрия для шорта
	if got := resolve(20, 80, 65, 10); got != types.SideShort {
		t.Errorf("20/80 должно давать SHORT, получили %s", got)
	}
}

func TestGlobalTrendGateBlocksCounterTrend(t *testing.T) {
	in := Inputs{
		Short:      deltas(-0.6, 0.2, -400),
		Medium:     deltas(-1.2, 0.4, -900),
		Long:       deltas(-1.8, 0.8, -1500),
		Thresholds: aggregator.Thresholds{MovePct: 1.0, OIPct: 0.5, Flow: 1000},
		Phase:      types.PhaseTrend,
		RSI:        75,
		RSIReady:   true,
		Bias:       indicators.BiasBullish, // глобально бычий рынок
	}

	res := Score(in, testCfg())
	if res.ShortScore != 0 {
		t.Errorf("при бычьем фильтре шорт должен быть обнулен, получили %f", res.ShortScore)
	}
}

func TestKnifePenaltySuppressesChasing(t *testing.T) {
	in := bullishInputs()
	base := Score(in, testCfg())

	// Обвал за короткое окно - падающий нож, лонг не догоняем
	in.Short = deltas(-2.5, 0.2, 400)
	penalized := Score(in, testCfg())

	if penalized.LongScore >= base.LongScore {
		t.Errorf("падающий нож должен резать оценку лонга: %f -> %f", base.LongScore, penalized.LongScore)
	}
}

func TestScoresClamped(t *testing.T) {
	in := bullishInputs()
	cfg := testCfg()
	cfg.PhaseBonus = 500

	res := Score(in, cfg)
	if res.LongScore < 0 || res.LongScore > 100 || res.ShortScore < 0 || res.ShortScore > 100 {
		t.Errorf("оценки должны лежать в [0,100], получили %f/%f", res.LongScore, res.ShortScore)
	}
}

func TestMajorReliefAndRangeBoost(t *testing.T) {
	cfg := testCfg()

	in := bullishInputs()
	in.Phase = types.PhaseRange
	in.IsMajor = false
	res := Score(in, cfg)
	if res.MinScore != cfg.MinScoreBase+cfg.RangeScoreBoost {
		t.Errorf("во флете минимум должен быть ужесточен до %f, получили %f",
			cfg.MinScoreBase+cfg.RangeScoreBoost, res.MinScore)
	}

	in.IsMajor = true
	res = Score(in, cfg)
	if res.MinScore != cfg.MinScoreBase+cfg.RangeScoreBoost-cfg.MajorScoreRelief {
		t.Errorf("мейджор должен получать послабление, получили %f", res.MinScore)
	}
}

func TestOIContractionNotPunished(t *testing.T) {
	in := bullishInputs()
	in.Long.OIChangePct = -1.0 // OI схлопывается

	res := Score(in, testCfg())
	for _, f := range res.Factors {
		if f.Name == "oi_confirm" {
			t.Error("при сжатии OI фактор oi_confirm не должен давать вклад")
		}
	}
	if res.LongScore < 0 {
		t.Error("сжатие OI не должно штрафовать")
	}
}
