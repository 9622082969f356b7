// internal/core/domain/aggregator/thresholds.go
package aggregator

// ThresholdConfig - параметры адаптивных порогов
type ThresholdConfig struct {
	ATRMoveMult    float64 // k1: множитель ATR% для порога движения
	MoveFloorPct   float64 // floor1: минимальный порог движения, %
	VolumeFlowMult float64 // k2: множитель среднего объема для порога потока
	FlowFloor      float64 // floor2: минимальный порог потока
	OIMoveFactor   float64 // доля порога движения для порога OI
	OIFloorPct     float64 // минимальный порог OI, %
}

// Thresholds - адаптивная пара порогов символа плюс производный порог OI.
// Волатильные символы получают более высокие пороги, неликвидные не
// вырождаются к нулю благодаря жёстким полам.
type Thresholds struct {
	MovePct float64 // порог движения цены, %
	OIPct   float64 // порог изменения OI, %
	Flow    float64 // порог величины потока (CVD)
}

// Thresholds выводит адаптивные пороги из текущего состояния серии
func (s *SeriesState) Thresholds(cfg ThresholdConfig, price float64) Thresholds {
	movePct := s.ATRPercent(price) * cfg.ATRMoveMult
	if movePct < cfg.MoveFloorPct {
		movePct = cfg.MoveFloorPct
	}

	flow := s.AverageVolume() * cfg.VolumeFlowMult
	if flow < cfg.FlowFloor {
		flow = cfg.FlowFloor
	}

	oiPct := movePct * cfg.OIMoveFactor
	if oiPct < cfg.OIFloorPct {
		oiPct = cfg.OIFloorPct
	}

	return Thresholds{
		MovePct: movePct,
		OIPct:   oiPct,
		Flow:    flow,
	}
}
