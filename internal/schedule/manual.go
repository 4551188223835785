package schedule

import (
	"sync"
	"time"
)

// Manual is a Clock that only moves when Advance is called. Tickers drop
// ticks their reader has not consumed, like time.Ticker does.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	timers  []*manualTimer
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker registers a ticker firing every d of manual time.
func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		clock:    m,
		interval: d,
		next:     m.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// AfterFunc registers f to run once d of manual time has passed.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

// Tickers returns the number of live tickers.
func (m *Manual) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

// Advance moves the clock forward by d, delivering due ticks and starting
// due timer callbacks in time order. Timer callbacks run on new goroutines.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.now.Add(d)
	for {
		var (
			at     time.Time
			ticker *manualTicker
			timer  *manualTimer
		)
		for _, t := range m.tickers {
			if !t.next.After(target) && (ticker == nil || t.next.Before(at)) {
				at, ticker = t.next, t
			}
		}
		for _, t := range m.timers {
			if !t.at.After(target) && ((ticker == nil && timer == nil) || t.at.Before(at)) {
				at, ticker, timer = t.at, nil, t
			}
		}
		switch {
		case timer != nil:
			m.now = at
			timer.fireLocked()
		case ticker != nil:
			m.now = at
			ticker.fireLocked()
		default:
			m.now = target
			return
		}
	}
}

func (m *Manual) removeTickerLocked(t *manualTicker) {
	for i, other := range m.tickers {
		if other == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

func (m *Manual) removeTimerLocked(t *manualTimer) bool {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTicker struct {
	clock    *Manual
	interval time.Duration
	next     time.Time
	ch       chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.removeTickerLocked(t)
}

// fireLocked delivers one tick. Caller holds the clock lock.
func (t *manualTicker) fireLocked() {
	at := t.next
	t.next = t.next.Add(t.interval)
	select {
	case t.ch <- at:
	default:
	}
}

type manualTimer struct {
	clock *Manual
	at    time.Time
	f     func()
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeTimerLocked(t)
}

// fireLocked removes the timer and runs its callback on a new goroutine,
// since the callback may call back into the clock.
func (t *manualTimer) fireLocked() {
	t.clock.removeTimerLocked(t)
	go t.f()
}
