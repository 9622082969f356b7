// internal/core/domain/phase/classifier_test.go
package phase

import (
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/core/domain/flow"
	"crypto-phase-trading-bot/internal/types"
)

func testCfg() Config {
	return Config{
		StaleFactor:           2.0,
		EmptyImpulseFrac:      0.4,
		DivergenceFrac:        0.8,
		TrendStrongFactor:     1.25,
		TrendChecklistMin:     3,
		AccumPriceFrac:        0.6,
		AccumOIFrac:           0.7,
		FlowBiasFrac:          0.2,
		BlowoffPriceFrac:      0.85,
		BlowoffOICollapseFrac: 0.7,
	}
}

func testThresholds() aggregator.Thresholds {
	return aggregator.Thresholds{MovePct: 1.0, OIPct: 0.5, Flow: 1000}
}

func deltas(price, oi, flowSum float64, span time.Duration) flow.WindowDeltas {
	return flow.WindowDeltas{
		PriceChangePct: price,
		OIChangePct:    oi,
		FlowSum:        flowSum,
		Span:           span,
		Valid:          true,
	}
}

func TestNotReadyReturnsRange(t *testing.T) {
	in := Inputs{
		Long:       flow.WindowDeltas{}, // Valid=false
		Medium:     deltas(0, 0, 0, 15*time.Minute),
		Short:      deltas(0, 0, 0, 5*time.Minute),
		Thresholds: testThresholds(),
	}
	if got := Classify(in, testCfg()); got != types.PhaseRange {
		t.Errorf("без готового длинного окна должна быть фаза range, получили %s", got)
	}
}

func TestStaleDataReturnsRange(t *testing.T) {
	// Сильный тренд по всем признакам, но база окна слишком старая
	in := Inputs{
		Long:             deltas(2.0, 1.0, 2000, 90*time.Minute),
		Medium:           deltas(1.0, 0.5, 1000, 15*time.Minute),
		Short:            deltas(0.5, 0.2, 500, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseRange {
		t.Errorf("устаревшие данные должны давать range, получили %s", got)
	}
}

func TestEmptyImpulseGuard(t *testing.T) {
	// Монотонный рост цены при плоском OI и нулевом потоке - выброс, не тренд
	in := Inputs{
		Long:             deltas(1.5, 0.05, 0, 30*time.Minute),
		Medium:           deltas(0.8, 0.02, 0, 15*time.Minute),
		Short:            deltas(0.3, 0.01, 0, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseRange {
		t.Errorf("пустой импульс должен классифицироваться как range, получили %s", got)
	}
}

func TestDivergenceGuard(t *testing.T) {
	// Цена растет, но агрессивный поток продает - дивергенция
	in := Inputs{
		Long:             deltas(1.2, 0.6, -1500, 30*time.Minute),
		Medium:           deltas(0.6, 0.3, -700, 15*time.Minute),
		Short:            deltas(0.2, 0.1, -300, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseRange {
		t.Errorf("дивергенция цена/поток должна давать range, получили %s", got)
	}
}

func TestTrendDetected(t *testing.T) {
	// Сильное движение, расширение OI, свежий моментум, поток подтверждает
	in := Inputs{
		Long:             deltas(1.5, 0.8, 2000, 30*time.Minute),
		Medium:           deltas(0.9, 0.4, 1200, 15*time.Minute),
		Short:            deltas(0.4, 0.2, 500, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseTrend {
		t.Errorf("должен быть распознан тренд, получили %s", got)
	}
}

func TestTrendRequiresFlowConfirmation(t *testing.T) {
	// Чек-лист набран, но поток против направления - тренд не подтвержден
	in := Inputs{
		Long:             deltas(1.5, 0.8, -100, 30*time.Minute),
		Medium:           deltas(0.9, 0.4, -50, 15*time.Minute),
		Short:            deltas(0.4, 0.2, -20, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got == types.PhaseTrend {
		t.Error("тренд без подтверждения потоком не должен распознаваться")
	}
}

func TestAccumulationDetected(t *testing.T) {
	// Цена стоит (<=0.3%), OI растет, поток положительный выше нейтральной полосы
	in := Inputs{
		Long:             deltas(0.3, 0.5, 400, 30*time.Minute),
		Medium:           deltas(0.1, 0.3, 200, 15*time.Minute),
		Short:            deltas(0.05, 0.1, 80, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseAccumulation {
		t.Errorf("должно быть распознано накопление, получили %s", got)
	}
}

func TestDistributionDetected(t *testing.T) {
	// Цена стоит, OI растет, поток отрицательный - распределение
	in := Inputs{
		Long:             deltas(-0.2, 0.5, -400, 30*time.Minute),
		Medium:           deltas(-0.1, 0.3, -200, 15*time.Minute),
		Short:            deltas(-0.05, 0.1, -80, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseDistribution {
		t.Errorf("должно быть распознано распределение, получили %s", got)
	}
}

func TestAccumulationNeutralFlowWithSupport(t *testing.T) {
	// Нейтральный поток, но OI среднего окна растет и цена не падает
	in := Inputs{
		Long:             deltas(0.2, 0.45, 50, 30*time.Minute),
		Medium:           deltas(0.1, 0.3, 30, 15*time.Minute),
		Short:            deltas(0.05, 0.1, 10, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseAccumulation {
		t.Errorf("нейтральный поток с поддержкой OI должен давать накопление, получили %s", got)
	}
}

func TestBlowoffDetected(t *testing.T) {
	// Сильное движение вверх, схлопывание OI, разворот короткого окна.
	// Поток подтверждает движение, иначе сработал бы гвард дивергенции.
	in := Inputs{
		Long:             deltas(1.2, 0.1, 900, 30*time.Minute),
		Medium:           deltas(-0.3, -0.5, -200, 15*time.Minute),
		Short:            deltas(-0.4, -0.3, -300, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseBlowoff {
		t.Errorf("должен быть распознан блоу-офф, получили %s", got)
	}
}

func TestQuietMarketIsRange(t *testing.T) {
	in := Inputs{
		Long:             deltas(0.1, 0.05, 20, 30*time.Minute),
		Medium:           deltas(0.05, 0.02, 10, 15*time.Minute),
		Short:            deltas(0.02, 0.01, 5, 5*time.Minute),
		Thresholds:       testThresholds(),
		ExpectedLongSpan: 30 * time.Minute,
	}
	if got := Classify(in, testCfg()); got != types.PhaseRange {
		t.Errorf("тихий рынок должен быть range, получили %s", got)
	}
}

func TestStateTracksAccumulationLifecycle(t *testing.T) {
	s := NewState()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !s.Update(types.PhaseAccumulation, now) {
		t.Fatal("смена фазы должна быть зафиксирована")
	}
	if s.Flags.AccumulationStartedAt != now {
		t.Error("начало накопления должно быть запомнено")
	}

	// Распад обратно во флет - неудавшееся накопление
	later := now.Add(20 * time.Minute)
	s.Update(types.PhaseRange, later)
	if s.Flags.FailedAccumulationAt != later {
		t.Error("распад накопления должен быть помечен как неудавшийся")
	}
	if !s.Flags.AccumulationStartedAt.IsZero() {
		t.Error("метка старта накопления должна быть сброшена")
	}
}

func TestStateAccumulationResolvedByTrend(t *testing.T) {
	s := NewState()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Update(types.PhaseAccumulation, now)
	s.Update(types.PhaseTrend, now.Add(30*time.Minute))

	if !s.Flags.FailedAccumulationAt.IsZero() {
		t.Error("накопление, разрешившееся трендом, не должно считаться неудачей")
	}
}

func TestStateNoChangeNoop(t *testing.T) {
	s := NewState()
	if s.Update(types.PhaseRange, time.Now()) {
		t.Error("повторная классификация той же фазы не должна считаться сменой")
	}
}
