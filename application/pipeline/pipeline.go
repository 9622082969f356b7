// application/pipeline/pipeline.go
package pipeline

import (
	"context"
	"sync"
	"time"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/core/domain/exit"
	"crypto-phase-trading-bot/internal/core/domain/flow"
	"crypto-phase-trading-bot/internal/core/domain/fsm"
	"crypto-phase-trading-bot/internal/core/domain/indicators"
	"crypto-phase-trading-bot/internal/core/domain/phase"
	"crypto-phase-trading-bot/internal/core/domain/scoring"
	"crypto-phase-trading-bot/internal/executor"
	events "crypto-phase-trading-bot/internal/infrastructure/transport/event_bus"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
	"crypto-phase-trading-bot/pkg/metrics"
)

// SnapshotStore - ведение ленты снапшотов (Redis). Опционально.
type SnapshotStore interface {
	Append(ctx context.Context, snap types.MarketSnapshot) error
}

// symbolState - скользящее состояние одного символа между тиками
type symbolState struct {
	series  *aggregator.SeriesState
	hourly  *aggregator.HourlySeries
	ring    *flow.Ring
	phase   *phase.State
	machine *fsm.Machine

	// последний 24h-объем, для вывода потикового объема из дельты
	lastVol24h float64
}

// intervalVolume возвращает объем, относимый к текущему тику: явный
// VolumeDelta источника, иначе прирост Volume24h с прошлого тика.
// Отрицательный прирост (сделки выпали из 24h-окна быстрее, чем
// пришли новые) обнуляется, историю не искажает.
func (st *symbolState) intervalVolume(snap types.MarketSnapshot) float64 {
	if snap.VolumeDelta > 0 {
		return snap.VolumeDelta
	}

	prev := st.lastVol24h
	st.lastVol24h = snap.Volume24h
	if prev <= 0 || snap.Volume24h <= prev {
		return 0
	}
	return snap.Volume24h - prev
}

// Pipeline - тиковый конвейер: снапшот рынка проходит агрегацию,
// классификацию фазы, оценку входа, движок выхода и машину состояний.
// Один и тот же конвейер обслуживает живую торговлю и реплей бэктеста,
// различие только в исполнителе и источнике снапшотов.
type Pipeline struct {
	cfg       *config.Config
	bus       *events.EventBus
	exec      executor.Executor
	snapshots SnapshotStore

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// NewPipeline создает конвейер. bus и snapshots могут быть nil
// (бэктест обходится без них).
func NewPipeline(cfg *config.Config, bus *events.EventBus, exec executor.Executor, snapshots SnapshotStore) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		bus:       bus,
		exec:      exec,
		snapshots: snapshots,
		symbols:   make(map[string]*symbolState),
	}
}

// Bootstrap восстанавливает состояние после рестарта из биржевой истины:
// для каждого символа с открытой позицией машина переводится в OPEN
func (p *Pipeline) Bootstrap(ctx context.Context, symbols []string) error {
	if err := p.exec.Bootstrap(ctx); err != nil {
		return err
	}

	for _, symbol := range symbols {
		if pos, ok := p.exec.Position(symbol); ok {
			st := p.bundle(symbol)
			st.machine.Adopt(pos.Side, pos.EntryTime)
			logger.Info("♻️ %s: принята открытая позиция %s с биржи", symbol, pos.Side)
		}
	}
	return nil
}

// NotifyClosed сообщает конвейеру, что позиция символа закрылась вне
// машины состояний (стоп на бирже, интрабарное касание в симуляторе)
func (p *Pipeline) NotifyClosed(symbol string, now time.Time) {
	p.bundle(symbol).machine.ForceClosed(now)
}

// UpdateHourly перестраивает медленную серию символа из готовых свечей
func (p *Pipeline) UpdateHourly(symbol string, candles []types.Candle) {
	p.bundle(symbol).hourly.RebuildFromCandles(candles)
}

// Symbols возвращает символы с накопленным состоянием
func (p *Pipeline) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		result = append(result, s)
	}
	return result
}

// ProcessTick прогоняет один снапшот через весь конвейер.
// Снапшот не новее предыдущего отбрасывается без побочных эффектов.
func (p *Pipeline) ProcessTick(ctx context.Context, snap types.MarketSnapshot) (types.TickResult, error) {
	st := p.bundle(snap.Symbol)

	result := types.TickResult{
		Symbol: snap.Symbol,
		Action: types.ActionNone,
		Signal: types.SideNone,
	}

	if !st.ring.Add(snap) {
		result.Phase = st.phase.Phase
		return result, nil
	}

	prevClosed := lastClosedStart(st.series)
	st.series.IngestTick(snap.Price, st.intervalVolume(snap), snap.Timestamp)
	if closed := lastClosedStart(st.series); !closed.IsZero() && !closed.Equal(prevClosed) {
		p.publish(types.EventCandleClosed, types.CandleClosedData{
			Symbol: snap.Symbol,
			Period: p.cfg.CandlePeriod,
		})
	}

	if p.snapshots != nil {
		if err := p.snapshots.Append(ctx, snap); err != nil {
			logger.Warn("⚠️ %s: снапшот не записан в ленту: %v", snap.Symbol, err)
		}
	}

	th := st.series.Thresholds(p.thresholdConfig(), snap.Price)
	dShort := st.ring.Deltas(p.cfg.WindowShort)
	dMedium := st.ring.Deltas(p.cfg.WindowMedium)
	dLong := st.ring.Deltas(p.cfg.WindowLong)

	// Фаза рынка
	ph := phase.Classify(phase.Inputs{
		Short:            dShort,
		Medium:           dMedium,
		Long:             dLong,
		Thresholds:       th,
		ExpectedLongSpan: time.Duration(p.cfg.WindowLong) * p.cfg.TickInterval,
	}, p.phaseConfig())

	prevPhase := st.phase.Phase
	if st.phase.Update(ph, snap.Timestamp) {
		metrics.IncPhaseChange(string(ph))
		p.publish(types.EventPhaseChanged, types.PhaseChangedData{
			Symbol: snap.Symbol,
			From:   prevPhase,
			To:     ph,
		})
	}
	result.Phase = ph

	// Оценка входа
	closes := closesOf(st.series.History())
	rsi, rsiReady := indicators.RSI(closes, p.cfg.RSIPeriod)
	bias := indicators.MACrossBias(st.hourly.Closes(), p.cfg.TrendMAFast, p.cfg.TrendMASlow)

	score := scoring.Score(scoring.Inputs{
		Short:      dShort,
		Medium:     dMedium,
		Long:       dLong,
		Thresholds: th,
		Phase:      ph,
		RSI:        rsi,
		RSIReady:   rsiReady,
		Funding:    snap.FundingRate,
		Bias:       bias,
		IsMajor:    p.cfg.IsMajor(snap.Symbol),
	}, p.scoringConfig())
	result.Signal = score.Signal

	// Движок выхода: имеет смысл только при открытой позиции
	var exitDecision exit.Decision
	if p.exec.HasExposure(snap.Symbol) {
		if pos, ok := p.exec.Position(snap.Symbol); ok {
			exitDecision = exit.Decide(exit.Inputs{
				Position:   pos,
				Price:      snap.Price,
				Now:        snap.Timestamp,
				Phase:      ph,
				Thresholds: th,
				ATRPct:     st.series.ATRPercent(snap.Price),
				Funding:    snap.FundingRate,
				ShortFlow:  dShort.FlowSum,
				Candle:     currentCandle(st.series),
				AvgVolume:  st.series.AverageVolume(),
				LongScore:  score.LongScore,
				ShortScore: score.ShortScore,
			}, p.exitConfig())
		}
	}

	action := st.machine.Tick(fsm.TickInput{
		Now:            snap.Timestamp,
		Price:          snap.Price,
		Signal:         score.Signal,
		Thresholds:     th,
		ShortFlow:      dShort.FlowSum,
		TradingEnabled: p.cfg.TradingEnabled,
		ExitNow:        exitDecision.Exit,
		ExitReason:     exitDecision.Reason,
	})
	result.Action = action
	metrics.IncDecision(string(action))

	switch action {
	case types.ActionSetup:
		logger.Signal(snap.Symbol, string(score.Signal), string(ph), score.LongScore, score.ShortScore)
		metrics.IncSignal(string(score.Signal))
		p.publish(types.EventSignalDetected, types.SignalDetectedData{
			Symbol:   snap.Symbol,
			Side:     score.Signal,
			Price:    snap.Price,
			Snapshot: scoreSnapshot(score, ph),
		})

	case types.ActionOpen:
		result.Action = p.openPosition(ctx, st, snap, score, ph)

	case types.ActionExit:
		result.Action = p.closePosition(ctx, st, snap)
	}

	return result, nil
}

// openPosition запрашивает открытие у исполнителя. Занятый вход или
// таймаут подтверждения - нормальный пропуск, машина откатывается в IDLE.
func (p *Pipeline) openPosition(ctx context.Context, st *symbolState, snap types.MarketSnapshot, score scoring.Result, ph types.Phase) types.FSMAction {
	atrPct := st.series.ATRPercent(snap.Price)
	stop, take := executor.StopLevels(snap.Price, st.machine.Side(), atrPct,
		p.cfg.StopATRMult, p.cfg.StopFloorPct, p.cfg.TakeProfitPct)

	pos, err := p.exec.Open(ctx, executor.OpenRequest{
		Symbol:     snap.Symbol,
		Side:       st.machine.Side(),
		Price:      snap.Price,
		StopLoss:   stop,
		TakeProfit: take,
		Meta:       scoreSnapshot(score, ph),
		Now:        snap.Timestamp,
	})
	if err != nil {
		st.machine.AbortOpen()
		if err == executor.ErrEntryBusy {
			logger.Debug("⏳ %s: вход занят, попытка пропущена", snap.Symbol)
		} else {
			logger.Error("❌ %s: открытие не удалось: %v", snap.Symbol, err)
		}
		return types.ActionCancel
	}

	metrics.IncTradeOpened()
	p.publish(types.EventTradeOpened, pos)
	return types.ActionOpen
}

// closePosition запрашивает закрытие. При ошибке машина остается в EXIT
// и закрытие повторится на следующем тике.
func (p *Pipeline) closePosition(ctx context.Context, st *symbolState, snap types.MarketSnapshot) types.FSMAction {
	reason := st.machine.ExitReason()

	trade, err := p.exec.Close(ctx, snap.Symbol, snap.Price, snap.Timestamp, reason)
	if err != nil {
		logger.Error("❌ %s: закрытие не удалось, повтор на следующем тике: %v", snap.Symbol, err)
		return types.ActionExit
	}

	st.machine.ConfirmClosed(snap.Timestamp)
	metrics.IncExit(string(reason), string(trade.Side))
	metrics.IncTradeClosed(trade.PnLNet)
	p.publish(types.EventTradeClosed, trade)
	return types.ActionExit
}

// bundle возвращает состояние символа, создавая его при первом тике
func (p *Pipeline) bundle(symbol string) *symbolState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.symbols[symbol]; ok {
		return st
	}

	st := &symbolState{
		series: aggregator.NewSeriesState(symbol, aggregator.Config{
			Period:          p.cfg.CandlePeriod,
			HistoryCap:      p.cfg.CandleHistoryCap,
			ATRPeriod:       p.cfg.ATRPeriod,
			AvgVolumeWindow: p.cfg.AvgVolumeWindow,
		}),
		hourly:  aggregator.NewHourlySeries(symbol, p.cfg.HourlyPeriod, p.cfg.HourlyHistoryLimit),
		ring:    flow.NewRing(p.cfg.SnapshotCapacity),
		phase:   phase.NewState(),
		machine: fsm.NewMachine(fsm.Config{
			CooldownAfterExit:  p.cfg.CooldownAfterExit,
			SetupMaxAge:        p.cfg.SetupMaxAge,
			ConfirmMinMoveFrac: p.cfg.ConfirmMinMoveFrac,
			ConfirmMaxMoveFrac: p.cfg.ConfirmMaxMoveFrac,
			ConfirmMinFlowFrac: p.cfg.ConfirmMinFlowFrac,
			ConfirmMinDensity:  p.cfg.ConfirmMinDensity,
			MaxHoldTime:        p.cfg.MaxHoldTime,
		}),
	}
	p.symbols[symbol] = st
	metrics.SetSymbolsMonitored(len(p.symbols))
	return st
}

func (p *Pipeline) publish(eventType types.EventType, data interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(types.Event{
		Type:   eventType,
		Source: "pipeline",
		Data:   data,
	})
}

func (p *Pipeline) thresholdConfig() aggregator.ThresholdConfig {
	return aggregator.ThresholdConfig{
		ATRMoveMult:    p.cfg.ATRMoveMult,
		MoveFloorPct:   p.cfg.MoveFloorPct,
		VolumeFlowMult: p.cfg.VolumeFlowMult,
		FlowFloor:      p.cfg.FlowFloor,
		OIMoveFactor:   p.cfg.OIMoveFactor,
		OIFloorPct:     p.cfg.OIFloorPct,
	}
}

func (p *Pipeline) phaseConfig() phase.Config {
	return phase.Config{
		StaleFactor:           p.cfg.StaleFactor,
		EmptyImpulseFrac:      p.cfg.EmptyImpulseFrac,
		DivergenceFrac:        p.cfg.DivergenceFrac,
		TrendStrongFactor:     p.cfg.TrendStrongFactor,
		TrendChecklistMin:     p.cfg.TrendChecklistMin,
		AccumPriceFrac:        p.cfg.AccumPriceFrac,
		AccumOIFrac:           p.cfg.AccumOIFrac,
		FlowBiasFrac:          p.cfg.FlowBiasFrac,
		BlowoffPriceFrac:      p.cfg.BlowoffPriceFrac,
		BlowoffOICollapseFrac: p.cfg.BlowoffOICollapseFrac,
	}
}

func (p *Pipeline) scoringConfig() scoring.Config {
	return scoring.Config{
		MomentumMediumMax: p.cfg.MomentumMediumMax,
		MomentumShortMax:  p.cfg.MomentumShortMax,
		TrendAlignBonus:   p.cfg.TrendAlignBonus,
		OIConfirmBonus:    p.cfg.OIConfirmBonus,
		FlowBonusMax:      p.cfg.FlowBonusMax,
		RSIExtremeBonus:   p.cfg.RSIExtremeBonus,
		RSIMildBonus:      p.cfg.RSIMildBonus,
		PhaseBonus:        p.cfg.PhaseBonus,
		FundingBonus:      p.cfg.FundingBonus,
		FundingExtreme:    p.cfg.FundingExtreme,
		KnifeMoveMult:     p.cfg.KnifeMoveMult,
		KnifePenalty:      p.cfg.KnifePenalty,
		MinScoreBase:      p.cfg.MinScoreBase,
		MinGapBase:        p.cfg.MinGapBase,
		RangeScoreBoost:   p.cfg.RangeScoreBoost,
		MajorScoreRelief:  p.cfg.MajorScoreRelief,
	}
}

func (p *Pipeline) exitConfig() exit.Config {
	return exit.Config{
		StopATRMult:      p.cfg.StopATRMult,
		StopFloorPct:     p.cfg.StopFloorPct,
		TakeProfitPct:    p.cfg.TakeProfitPct,
		FundingExtreme:   p.cfg.ExitFundingExtreme,
		FlowReversalMult: p.cfg.FlowReversalMult,
		OpposingScoreBar: p.cfg.OpposingScoreBar,
		HoldCapRange:     p.cfg.HoldCapRange,
		HoldCapTrend:     p.cfg.HoldCapTrend,
		NegligiblePnLPct: p.cfg.NegligiblePnLPct,
		MicroProfitPct:   p.cfg.MicroProfitPct,
		WeakBodyRatio:    p.cfg.WeakBodyRatio,
	}
}

// scoreSnapshot собирает снимок оценки для журнала и метаданных позиции.
// В разложение идут вклады стороны сигнала (или LONG, если сигнала нет).
func scoreSnapshot(score scoring.Result, ph types.Phase) types.ScoreSnapshot {
	factors := make(map[string]float64, len(score.Factors))
	for _, f := range score.Factors {
		if score.Signal == types.SideShort {
			factors[f.Name] = f.Short
		} else {
			factors[f.Name] = f.Long
		}
	}

	return types.ScoreSnapshot{
		LongScore:  score.LongScore,
		ShortScore: score.ShortScore,
		Phase:      ph,
		Factors:    factors,
	}
}

func closesOf(candles []types.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// lastClosedStart возвращает начало последней закрытой свечи серии
func lastClosedStart(s *aggregator.SeriesState) time.Time {
	if h := s.History(); len(h) > 0 {
		return h[len(h)-1].StartTime
	}
	return time.Time{}
}

// currentCandle возвращает текущую свечу или последнюю закрытую
func currentCandle(s *aggregator.SeriesState) types.Candle {
	if c := s.CurrentCandle(); c != nil {
		return *c
	}
	if h := s.History(); len(h) > 0 {
		return h[len(h)-1]
	}
	return types.Candle{}
}
