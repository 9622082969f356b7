// internal/core/domain/fsm/fsm.go
package fsm

import (
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/types"
)

// State - состояние жизненного цикла позиции одного символа
type State int

const (
	StateIdle State = iota
	StateSetup
	StateOpen
	StateExit
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "SETUP"
	case StateOpen:
		return "OPEN"
	case StateExit:
		return "EXIT"
	default:
		return "IDLE"
	}
}

// Config - параметры машины состояний
type Config struct {
	CooldownAfterExit  time.Duration // пауза после выхода перед новым сетапом
	SetupMaxAge        time.Duration // таймаут ожидания подтверждения
	ConfirmMinMoveFrac float64       // нижняя граница полосы движения, доля порога
	ConfirmMaxMoveFrac float64       // верхняя граница ("не опоздали"), доля порога
	ConfirmMinFlowFrac float64       // минимум потока, доля порога потока
	ConfirmMinDensity  float64       // минимум плотности потока на процент движения
	MaxHoldTime        time.Duration // жесткий потолок удержания позиции
}

// TickInput - вход машины на одном тике
type TickInput struct {
	Now            time.Time
	Price          float64
	Signal         types.Side
	Thresholds     aggregator.Thresholds
	ShortFlow      float64 // поток короткого окна, для подтверждения
	TradingEnabled bool
	ExitNow        bool              // решение движка выхода
	ExitReason     types.CloseReason // причина, если ExitNow
}

// Machine - машина IDLE -> SETUP -> OPEN -> EXIT -> IDLE одного символа.
// Подтверждение входа оценивается синхронно внутри SETUP: без прохождения
// предиката подтверждения открытие не запрашивается. Машина только
// запрашивает открытие/закрытие, позицией владеет исполнитель.
type Machine struct {
	cfg Config

	state      State
	side       types.Side
	setupAt    time.Time
	setupPrice float64
	openedAt   time.Time
	lastExitAt time.Time
	exitReason types.CloseReason
}

// NewMachine создает машину в состоянии IDLE
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

func (m *Machine) State() State                  { return m.state }
func (m *Machine) Side() types.Side              { return m.side }
func (m *Machine) OpenedAt() time.Time           { return m.openedAt }
func (m *Machine) LastExitAt() time.Time         { return m.lastExitAt }
func (m *Machine) ExitReason() types.CloseReason { return m.exitReason }

// InCooldown сообщает, действует ли пауза после последнего выхода
func (m *Machine) InCooldown(now time.Time) bool {
	if m.lastExitAt.IsZero() || m.cfg.CooldownAfterExit <= 0 {
		return false
	}
	return now.Sub(m.lastExitAt) < m.cfg.CooldownAfterExit
}

// Tick продвигает машину на один шаг и возвращает требуемое действие.
// Только SETUP->OPEN возвращает ActionOpen, только OPEN->EXIT - ActionExit.
func (m *Machine) Tick(in TickInput) types.FSMAction {
	switch m.state {
	case StateIdle:
		return m.tickIdle(in)
	case StateSetup:
		return m.tickSetup(in)
	case StateOpen:
		return m.tickOpen(in)
	case StateExit:
		// Закрытие уже запрошено, повторный выход - no-op
		return types.ActionNone
	}
	return types.ActionNone
}

func (m *Machine) tickIdle(in TickInput) types.FSMAction {
	// Выключенная торговля замораживает переходы из IDLE
	if !in.TradingEnabled {
		return types.ActionSuspended
	}
	if m.InCooldown(in.Now) {
		return types.ActionCooldown
	}
	if in.Signal == types.SideNone || in.Price <= 0 {
		return types.ActionNone
	}

	m.state = StateSetup
	m.side = in.Signal
	m.setupAt = in.Now
	m.setupPrice = in.Price
	return types.ActionSetup
}

func (m *Machine) tickSetup(in TickInput) types.FSMAction {
	if !in.TradingEnabled {
		m.toIdle()
		return types.ActionCancel
	}
	// Сигнал пропал или перевернулся - сетап отменяется
	if in.Signal != m.side {
		m.toIdle()
		return types.ActionCancel
	}
	// Подтверждение не пришло вовремя
	if m.cfg.SetupMaxAge > 0 && in.Now.Sub(m.setupAt) > m.cfg.SetupMaxAge {
		m.toIdle()
		return types.ActionCancel
	}

	if !m.confirmed(in) {
		return types.ActionNone
	}

	m.state = StateOpen
	m.openedAt = in.Now
	return types.ActionOpen
}

func (m *Machine) tickOpen(in TickInput) types.FSMAction {
	if in.ExitNow {
		m.state = StateExit
		m.exitReason = in.ExitReason
		return types.ActionExit
	}
	// Жесткий потолок удержания - независимо от движка выхода
	if m.cfg.MaxHoldTime > 0 && in.Now.Sub(m.openedAt) >= m.cfg.MaxHoldTime {
		m.state = StateExit
		m.exitReason = types.CloseTimeout
		return types.ActionExit
	}
	return types.ActionNone
}

// confirmed - предикат подтверждения, строже порога входа:
// движение в сторону сетапа внутри полосы "не рано и не поздно",
// минимальный поток по направлению и минимальная плотность потока
// на процент движения. Отсекает и "ничего не происходит", и
// "уже все случилось".
func (m *Machine) confirmed(in TickInput) bool {
	if m.setupPrice <= 0 || in.Price <= 0 {
		return false
	}

	movePct := (in.Price - m.setupPrice) / m.setupPrice * 100
	if m.side == types.SideShort {
		movePct = -movePct
	}

	minMove := in.Thresholds.MovePct * m.cfg.ConfirmMinMoveFrac
	maxMove := in.Thresholds.MovePct * m.cfg.ConfirmMaxMoveFrac
	if movePct < minMove || movePct > maxMove {
		return false
	}

	dirFlow := in.ShortFlow
	if m.side == types.SideShort {
		dirFlow = -dirFlow
	}
	if dirFlow < in.Thresholds.Flow*m.cfg.ConfirmMinFlowFrac {
		return false
	}

	if movePct > 0 && m.cfg.ConfirmMinDensity > 0 {
		density := dirFlow / movePct
		if density < in.Thresholds.Flow*m.cfg.ConfirmMinDensity {
			return false
		}
	}

	return true
}

// Adopt принимает уже открытую позицию (восстановление после рестарта
// из биржевой истины): машина сразу переходит в OPEN
func (m *Machine) Adopt(side types.Side, openedAt time.Time) {
	m.state = StateOpen
	m.side = side
	m.openedAt = openedAt
	m.exitReason = ""
}

// ConfirmClosed фиксирует подтвержденное исполнителем закрытие:
// EXIT -> IDLE, сторона и момент открытия очищаются, запоминается
// момент выхода для кулдауна
func (m *Machine) ConfirmClosed(now time.Time) {
	if m.state != StateExit {
		return
	}
	m.lastExitAt = now
	m.toIdle()
}

// ForceClosed фиксирует закрытие, произошедшее вне машины (стоп,
// сработавший на бирже, или интрабарное касание в симуляторе):
// OPEN/EXIT -> IDLE, кулдаун начисляется как при обычном выходе
func (m *Machine) ForceClosed(now time.Time) {
	if m.state != StateOpen && m.state != StateExit {
		return
	}
	m.lastExitAt = now
	m.toIdle()
}

// AbortOpen откатывает машину в IDLE, когда исполнитель не смог
// открыть позицию за отведенное время. Кулдаун не начисляется.
func (m *Machine) AbortOpen() {
	if m.state != StateOpen {
		return
	}
	m.toIdle()
}

func (m *Machine) toIdle() {
	m.state = StateIdle
	m.side = types.SideNone
	m.setupAt = time.Time{}
	m.setupPrice = 0
	m.openedAt = time.Time{}
	m.exitReason = ""
}
