// internal/core/domain/phase/state.go
package phase

import (
	"time"

	"crypto-phase-trading-bot/internal/types"
)

// Flags - типизированные флаги состояния символа между тиками.
// Заменяют россыпь произвольных ключей: каждый флаг именован и имеет тип.
type Flags struct {
	EntryCandidate        bool       // символ прошел предварительный отбор на вход
	LastEntrySide         types.Side // сторона последнего входа
	AccumulationStartedAt time.Time  // начало текущей фазы накопления/распределения
	FailedAccumulationAt  time.Time  // момент распада накопления без пробоя
}

// State - состояние фазовой машины одного символа
type State struct {
	Phase       types.Phase
	ChangedAt   time.Time // момент последней смены фазы
	LastAlertAt time.Time
	Flags       Flags
}

// NewState создает состояние с фазой range
func NewState() *State {
	return &State{Phase: types.PhaseRange}
}

// Update применяет новую классификацию и ведет флаги переходов:
// вход в накопление/распределение запоминает момент старта, распад
// накопления обратно во флет без тренда помечается как неудавшийся.
func (s *State) Update(p types.Phase, now time.Time) (changed bool) {
	if p == s.Phase {
		return false
	}

	wasAccum := s.Phase == types.PhaseAccumulation || s.Phase == types.PhaseDistribution
	isAccum := p == types.PhaseAccumulation || p == types.PhaseDistribution

	switch {
	case isAccum && !wasAccum:
		s.Flags.AccumulationStartedAt = now
		s.Flags.FailedAccumulationAt = time.Time{}
	case wasAccum && p == types.PhaseRange:
		s.Flags.FailedAccumulationAt = now
		s.Flags.AccumulationStartedAt = time.Time{}
	case wasAccum && p == types.PhaseTrend:
		// накопление разрешилось пробоем, неудачей не считается
		s.Flags.AccumulationStartedAt = time.Time{}
	}

	s.Phase = p
	s.ChangedAt = now
	return true
}
