// application/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/executor"
	"crypto-phase-trading-bot/internal/types"
)

// stubExecutor - исполнитель-заглушка с предзаданными позициями
type stubExecutor struct {
	positions map[string]types.TradePosition
	closed    []types.ClosedTrade
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{positions: make(map[string]types.TradePosition)}
}

func (s *stubExecutor) Bootstrap(ctx context.Context) error { return nil }

func (s *stubExecutor) HasExposure(symbol types.Symbol) bool {
	_, ok := s.positions[symbol]
	return ok
}

func (s *stubExecutor) Position(symbol types.Symbol) (types.TradePosition, bool) {
	pos, ok := s.positions[symbol]
	return pos, ok
}

func (s *stubExecutor) Open(ctx context.Context, req executor.OpenRequest) (types.TradePosition, error) {
	pos := types.TradePosition{
		ID:         "stub",
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Qty:        1,
		EntryTime:  req.Now,
	}
	s.positions[req.Symbol] = pos
	return pos, nil
}

func (s *stubExecutor) Close(ctx context.Context, symbol types.Symbol, price float64, now time.Time, reason types.CloseReason) (types.ClosedTrade, error) {
	pos := s.positions[symbol]
	delete(s.positions, symbol)

	trade := types.ClosedTrade{
		TradePosition: pos,
		ExitPrice:     price,
		ExitTime:      now,
		Reason:        reason,
	}
	s.closed = append(s.closed, trade)
	return trade, nil
}

func (s *stubExecutor) SyncSymbol(ctx context.Context, symbol types.Symbol) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		TradingEnabled:   true,
		TickInterval:     time.Minute,
		SnapshotCapacity: 50,

		CandlePeriod:       "1m",
		HourlyPeriod:       "1h",
		CandleHistoryCap:   100,
		ATRPeriod:          3,
		AvgVolumeWindow:    3,
		HourlyHistoryLimit: 100,

		ATRMoveMult:    1.5,
		MoveFloorPct:   0.6,
		VolumeFlowMult: 0.25,
		FlowFloor:      1000,
		OIMoveFactor:   0.5,
		OIFloorPct:     0.4,

		WindowShort:           3,
		WindowMedium:          6,
		WindowLong:            12,
		StaleFactor:           2.0,
		EmptyImpulseFrac:      0.4,
		DivergenceFrac:        0.8,
		TrendChecklistMin:     3,
		TrendStrongFactor:     1.25,
		AccumPriceFrac:        0.6,
		AccumOIFrac:           0.7,
		FlowBiasFrac:          0.2,
		BlowoffPriceFrac:      0.85,
		BlowoffOICollapseFrac: 0.7,

		RSIPeriod:         5,
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
		TrendMAFast:       3,
		TrendMASlow:       6,

		CooldownAfterExit:  30 * time.Minute,
		SetupMaxAge:        10 * time.Minute,
		ConfirmMinMoveFrac: 0.25,
		ConfirmMaxMoveFrac: 1.5,
		ConfirmMinFlowFrac: 0.5,
		ConfirmMinDensity:  0.3,
		MaxHoldTime:        8 * time.Hour,

		StopATRMult:        1.8,
		StopFloorPct:       1.2,
		TakeProfitPct:      2.5,
		ExitFundingExtreme: 0.001,
		FlowReversalMult:   1.5,
		OpposingScoreBar:   75,
		HoldCapRange:       2 * time.Hour,
		HoldCapTrend:       6 * time.Hour,
		NegligiblePnLPct:   0.3,
		MicroProfitPct:     0.4,
		WeakBodyRatio:      0.35,
	}
}

func snapAt(symbol string, price float64, ts time.Time) types.MarketSnapshot {
	return types.MarketSnapshot{
		Symbol:       symbol,
		Price:        price,
		OpenInterest: 1000000,
		Timestamp:    ts,
	}
}

func TestStaleSnapshotIgnored(t *testing.T) {
	p := NewPipeline(testConfig(), nil, newStubExecutor(), nil)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := p.ProcessTick(ctx, snapAt("BTCUSDT", 50000, ts)); err != nil {
		t.Fatalf("первый тик: %v", err)
	}

	// Снапшот с той же меткой времени не продвигает состояние
	result, err := p.ProcessTick(ctx, snapAt("BTCUSDT", 51000, ts))
	if err != nil {
		t.Fatalf("повторный тик: %v", err)
	}
	if result.Action != types.ActionNone {
		t.Errorf("устаревший снапшот должен давать ActionNone, получено %s", result.Action)
	}
}

func TestColdStartStaysQuiet(t *testing.T) {
	p := NewPipeline(testConfig(), nil, newStubExecutor(), nil)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Пока окна не накоплены, конвейер не сигналит и не входит
	for i := 0; i < 5; i++ {
		result, err := p.ProcessTick(ctx, snapAt("ETHUSDT", 3000+float64(i), ts.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("тик %d: %v", i, err)
		}
		if result.Signal != types.SideNone {
			t.Errorf("тик %d: сигнал до готовности окон: %s", i, result.Signal)
		}
		if result.Action != types.ActionNone {
			t.Errorf("тик %d: действие до готовности окон: %s", i, result.Action)
		}
		if result.Phase != types.PhaseRange {
			t.Errorf("тик %d: фаза холодного старта должна быть range, получено %s", i, result.Phase)
		}
	}
}

func TestBootstrapAdoptsPositionAndStopLossCloses(t *testing.T) {
	cfg := testConfig()
	exec := newStubExecutor()

	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	exec.positions["BTCUSDT"] = types.TradePosition{
		ID:         "restored",
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		EntryPrice: 50000,
		Qty:        0.1,
		EntryTime:  entry,
	}

	p := NewPipeline(cfg, nil, exec, nil)
	ctx := context.Background()

	if err := p.Bootstrap(ctx, []string{"BTCUSDT"}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// Цена упала на 2% - глубже пола стопа (1.2%), движок выхода требует закрытия
	ts := entry.Add(time.Hour)
	result, err := p.ProcessTick(ctx, snapAt("BTCUSDT", 49000, ts))
	if err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	if result.Action != types.ActionExit {
		t.Fatalf("ожидался выход по стопу, получено %s", result.Action)
	}
	if len(exec.closed) != 1 {
		t.Fatalf("ожидалась 1 закрытая сделка, получено %d", len(exec.closed))
	}
	if exec.closed[0].Reason != types.CloseStopLoss {
		t.Errorf("ожидалась причина stop-loss, получена %s", exec.closed[0].Reason)
	}

	// После закрытия действует кулдаун
	result, err = p.ProcessTick(ctx, snapAt("BTCUSDT", 49100, ts.Add(time.Minute)))
	if err != nil {
		t.Fatalf("тик после закрытия: %v", err)
	}
	if result.Action != types.ActionCooldown {
		t.Errorf("после выхода ожидался кулдаун, получено %s", result.Action)
	}
}

func TestTickVolumeFeedsAdaptiveFlowThreshold(t *testing.T) {
	p := NewPipeline(testConfig(), nil, newStubExecutor(), nil)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Живой путь: потиковый объем выводится из прироста Volume24h
	for i := 0; i < 6; i++ {
		snap := snapAt("BTCUSDT", 50000, ts.Add(time.Duration(i)*time.Minute))
		snap.Volume24h = 1000000 + float64(i)*5000
		if _, err := p.ProcessTick(ctx, snap); err != nil {
			t.Fatalf("тик %d: %v", i, err)
		}
	}

	st := p.bundle("BTCUSDT")
	if avg := st.series.AverageVolume(); avg != 5000 {
		t.Errorf("средний объем должен набираться из дельт Volume24h: ожидали 5000, получили %.0f", avg)
	}
	th := st.series.Thresholds(p.thresholdConfig(), 50000)
	if th.Flow <= p.cfg.FlowFloor {
		t.Errorf("порог потока должен оторваться от пола %.0f, получили %.0f", p.cfg.FlowFloor, th.Flow)
	}

	// Путь реплея: источник задает потиковый объем явно
	for i := 0; i < 6; i++ {
		snap := snapAt("ETHUSDT", 3000, ts.Add(time.Duration(i)*time.Minute))
		snap.VolumeDelta = 7000
		if _, err := p.ProcessTick(ctx, snap); err != nil {
			t.Fatalf("тик реплея %d: %v", i, err)
		}
	}
	if avg := p.bundle("ETHUSDT").series.AverageVolume(); avg != 7000 {
		t.Errorf("явный VolumeDelta должен попадать в свечи: ожидали 7000, получили %.0f", avg)
	}
}

func TestTradingDisabledSuspends(t *testing.T) {
	cfg := testConfig()
	cfg.TradingEnabled = false

	p := NewPipeline(cfg, nil, newStubExecutor(), nil)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	result, err := p.ProcessTick(ctx, snapAt("BTCUSDT", 50000, ts))
	if err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if result.Action != types.ActionSuspended {
		t.Errorf("при выключенной торговле ожидалось suspended, получено %s", result.Action)
	}
}

func TestSymbolsRegistryGrows(t *testing.T) {
	p := NewPipeline(testConfig(), nil, newStubExecutor(), nil)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p.ProcessTick(ctx, snapAt("BTCUSDT", 50000, ts))
	p.ProcessTick(ctx, snapAt("ETHUSDT", 3000, ts))

	if n := len(p.Symbols()); n != 2 {
		t.Errorf("ожидалось 2 символа в реестре, получено %d", n)
	}
}
