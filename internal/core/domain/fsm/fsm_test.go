// internal/core/domain/fsm/fsm_test.go
package fsm

import (
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/core/domain/aggregator"
	"crypto-phase-trading-bot/internal/types"
)

func testCfg() Config {
	return Config{
		CooldownAfterExit:  30 * time.Minute,
		SetupMaxAge:        10 * time.Minute,
		ConfirmMinMoveFrac: 0.25,
		ConfirmMaxMoveFrac: 1.5,
		ConfirmMinFlowFrac: 0.5,
		ConfirmMinDensity:  0.3,
		MaxHoldTime:        8 * time.Hour,
	}
}

func testThresholds() aggregator.Thresholds {
	return aggregator.Thresholds{MovePct: 1.0, OIPct: 0.5, Flow: 1000}
}

func baseTick(now time.Time) TickInput {
	return TickInput{
		Now:            now,
		Price:          100,
		Signal:         types.SideNone,
		Thresholds:     testThresholds(),
		TradingEnabled: true,
	}
}

// Проводит машину по пути IDLE -> SETUP -> OPEN
func openMachine(t *testing.T, m *Machine, now time.Time) time.Time {
	t.Helper()

	in := baseTick(now)
	in.Signal = types.SideLong
	if got := m.Tick(in); got != types.ActionSetup {
		t.Fatalf("ожидали переход в SETUP, получили %s", got)
	}

	// Через 2 минуты цена прошла 0.5% порога с потоком по направлению
	now = now.Add(2 * time.Minute)
	in = baseTick(now)
	in.Signal = types.SideLong
	in.Price = 100.5
	in.ShortFlow = 800
	if got := m.Tick(in); got != types.ActionOpen {
		t.Fatalf("ожидали подтверждение и открытие, получили %s (state=%s)", got, m.State())
	}
	return now
}

func TestNoOpenWithoutSetup(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Даже идеальный тик из IDLE дает только SETUP, не OPEN
	in := baseTick(now)
	in.Signal = types.SideLong
	in.ShortFlow = 5000
	if got := m.Tick(in); got == types.ActionOpen {
		t.Fatal("открытие без пройденного SETUP запрещено")
	}
	if m.State() != StateSetup {
		t.Errorf("машина должна быть в SETUP, получили %s", m.State())
	}
}

func TestConfirmationBandRejectsTooEarlyAndTooLate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Слишком рано: движение меньше нижней границы полосы
	m := NewMachine(testCfg())
	in := baseTick(now)
	in.Signal = types.SideLong
	m.Tick(in)

	in.Now = now.Add(time.Minute)
	in.Price = 100.1 // 0.1% < 0.25%
	in.ShortFlow = 5000
	if got := m.Tick(in); got != types.ActionNone {
		t.Errorf("движение ниже полосы не должно подтверждать, получили %s", got)
	}

	// Слишком поздно: движение выше верхней границы
	in.Price = 102.0 // 2% > 1.5%
	if got := m.Tick(in); got != types.ActionNone {
		t.Errorf("движение выше полосы не должно подтверждать, получили %s", got)
	}

	// Без потока подтверждения нет
	in.Price = 100.5
	in.ShortFlow = 100 // < 0.5 * 1000
	if got := m.Tick(in); got != types.ActionNone {
		t.Errorf("слабый поток не должен подтверждать, получили %s", got)
	}
}

func TestSetupCancelsOnSignalFlip(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	in := baseTick(now)
	in.Signal = types.SideLong
	m.Tick(in)

	in.Now = now.Add(time.Minute)
	in.Signal = types.SideShort
	if got := m.Tick(in); got != types.ActionCancel {
		t.Errorf("переворот сигнала должен отменять сетап, получили %s", got)
	}
	if m.State() != StateIdle || m.Side() != types.SideNone {
		t.Error("после отмены машина должна вернуться в чистый IDLE")
	}
}

func TestSetupTimesOut(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	in := baseTick(now)
	in.Signal = types.SideLong
	m.Tick(in)

	in.Now = now.Add(11 * time.Minute)
	if got := m.Tick(in); got != types.ActionCancel {
		t.Errorf("просроченный сетап должен отменяться, получили %s", got)
	}
}

func TestExitClearsStateAndStartsCooldown(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now = openMachine(t, m, now)

	in := baseTick(now.Add(time.Hour))
	in.ExitNow = true
	in.ExitReason = types.CloseStopLoss
	if got := m.Tick(in); got != types.ActionExit {
		t.Fatalf("ожидали запрос выхода, получили %s", got)
	}
	if m.ExitReason() != types.CloseStopLoss {
		t.Errorf("причина выхода должна сохраниться, получили %s", m.ExitReason())
	}

	// Повторный тик в EXIT - no-op, двойного закрытия нет
	if got := m.Tick(in); got != types.ActionNone {
		t.Errorf("повторный выход должен быть no-op, получили %s", got)
	}

	closedAt := now.Add(time.Hour + time.Minute)
	m.ConfirmClosed(closedAt)
	if m.State() != StateIdle || m.Side() != types.SideNone || !m.OpenedAt().IsZero() {
		t.Error("после закрытия машина должна быть в чистом IDLE")
	}
	if m.LastExitAt() != closedAt {
		t.Error("момент выхода должен быть записан")
	}

	// Кулдаун: новый сигнал игнорируется
	in = baseTick(closedAt.Add(5 * time.Minute))
	in.Signal = types.SideLong
	if got := m.Tick(in); got != types.ActionCooldown {
		t.Errorf("в кулдауне сетап запрещен, получили %s", got)
	}

	// После кулдауна - снова можно
	in.Now = closedAt.Add(31 * time.Minute)
	if got := m.Tick(in); got != types.ActionSetup {
		t.Errorf("после кулдауна сетап должен разрешаться, получили %s", got)
	}
}

func TestMaxHoldForcesExit(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now = openMachine(t, m, now)

	in := baseTick(now.Add(9 * time.Hour))
	if got := m.Tick(in); got != types.ActionExit {
		t.Fatalf("превышение потолка удержания должно закрывать, получили %s", got)
	}
	if m.ExitReason() != types.CloseTimeout {
		t.Errorf("причина должна быть timeout, получили %s", m.ExitReason())
	}
}

func TestTradingDisabledFreezesEntriesNotExits(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// В IDLE при выключенной торговле входов нет
	in := baseTick(now)
	in.Signal = types.SideLong
	in.TradingEnabled = false
	if got := m.Tick(in); got != types.ActionSuspended {
		t.Errorf("при выключенной торговле вход заморожен, получили %s", got)
	}

	// Открытая позиция закрывается даже при выключенной торговле
	now = openMachine(t, m, now)
	in = baseTick(now.Add(time.Hour))
	in.TradingEnabled = false
	in.ExitNow = true
	in.ExitReason = types.CloseFunding
	if got := m.Tick(in); got != types.ActionExit {
		t.Errorf("выход должен работать и при выключенной торговле, получили %s", got)
	}
}

func TestAbortOpenReturnsToIdleWithoutCooldown(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now = openMachine(t, m, now)

	m.AbortOpen()
	if m.State() != StateIdle {
		t.Fatalf("после срыва открытия машина должна быть в IDLE, получили %s", m.State())
	}
	if m.InCooldown(now) {
		t.Error("срыв открытия не должен начислять кулдаун")
	}
}

func TestAdoptRestoresOpenState(t *testing.T) {
	m := NewMachine(testCfg())
	openedAt := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	m.Adopt(types.SideShort, openedAt)
	if m.State() != StateOpen {
		t.Fatalf("после принятия позиции машина должна быть в OPEN, получили %s", m.State())
	}
	if m.Side() != types.SideShort {
		t.Errorf("сторона принятой позиции потеряна: %s", m.Side())
	}

	// Принятая позиция закрывается обычным путем
	in := baseTick(openedAt.Add(time.Hour))
	in.ExitNow = true
	in.ExitReason = types.CloseStopLoss
	if got := m.Tick(in); got != types.ActionExit {
		t.Errorf("принятая позиция должна выходить как обычная, получили %s", got)
	}
}

func TestForceClosedFromOpenStartsCooldown(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now = openMachine(t, m, now)

	// Закрытие произошло вне машины: стоп на бирже
	m.ForceClosed(now)
	if m.State() != StateIdle {
		t.Fatalf("после внешнего закрытия машина должна быть в IDLE, получили %s", m.State())
	}
	if !m.InCooldown(now.Add(time.Minute)) {
		t.Error("внешнее закрытие должно начислять кулдаун как обычный выход")
	}
}

func TestForceClosedIgnoredInIdle(t *testing.T) {
	m := NewMachine(testCfg())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m.ForceClosed(now)
	if m.State() != StateIdle {
		t.Fatalf("машина должна остаться в IDLE, получили %s", m.State())
	}
	if m.InCooldown(now.Add(time.Minute)) {
		t.Error("внешнее закрытие без позиции не должно начислять кулдаун")
	}
}
