// application/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryScheduleNextRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	next := Every(time.Minute).nextRun(now)
	if !next.Equal(now.Add(time.Minute)) {
		t.Errorf("ожидался запуск через минуту, получено %s", next)
	}
}

func TestDailyScheduleRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	// Время сегодня уже прошло - следующий запуск завтра
	next := DailyAt(10, 0).nextRun(now)
	want := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("ожидался запуск %s, получено %s", want, next)
	}

	// Время сегодня еще впереди
	next = DailyAt(15, 0).nextRun(now)
	want = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("ожидался запуск %s, получено %s", want, next)
	}
}

func TestJobDoesNotOverlapItself(t *testing.T) {
	s := New()
	s.resolution = 10 * time.Millisecond

	var active, maxActive int32
	job := &Job{
		Name:     "slow",
		Schedule: Every(time.Millisecond),
		Handler: func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		},
	}

	s.Register(job)
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&maxActive); got > 1 {
		t.Errorf("задача запускалась поверх себя: одновременно %d запусков", got)
	}
	if job.Status().Runs == 0 {
		t.Error("задача ни разу не выполнилась")
	}
}
