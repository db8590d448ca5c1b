package thread

import (
	"sync"
	"time"
)

// visibilityMonitor решает, нужен ли полный ресинк после возвращения вкладки
// из фона. Сигналом служит не сам факт фона, а тишина канала реального
// времени: если с последней активности ленты прошло больше допуска, буфер
// считается устаревшим целиком.
type visibilityMonitor struct {
	feed  Feed
	clock Clock
	gap   time.Duration

	mu      sync.Mutex
	pending *time.Timer
}

func newVisibilityMonitor(feed Feed, clock Clock, gap time.Duration) *visibilityMonitor {
	return &visibilityMonitor{feed: feed, clock: clock, gap: gap}
}

// OnVisible вызывается на событие visibilitychange со стороны консоли.
// Проверка отложена на короткий дебаунс: браузеры шлют событие пачками,
// а таймстемп активности ленты может обновиться heartbeat-ом следом.
func (v *visibilityMonitor) OnVisible(resync func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending != nil {
		v.pending.Stop()
	}
	v.pending = time.AfterFunc(10*time.Millisecond, func() {
		if v.stale() {
			resync()
		}
	})
}

func (v *visibilityMonitor) stale() bool {
	last := v.feed.LastActivity()
	if last.IsZero() {
		return true
	}
	return v.clock.Now().Sub(last) > v.gap
}

func (v *visibilityMonitor) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending != nil {
		v.pending.Stop()
		v.pending = nil
	}
}
