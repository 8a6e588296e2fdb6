package app

import (
	"sync"
	"time"
)

// TickerSource abstracts the wall-clock ticker so countdown behavior is
// deterministic in tests. It returns a tick channel and a stop function.
type TickerSource func(interval time.Duration) (<-chan time.Time, func())

// RealTicker backs a Countdown with time.Ticker.
func RealTicker(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Countdown counts a question's time limit down to zero, emitting the
// remaining whole seconds once per second. The initial value (the full
// limit) is available immediately; expiry fires exactly once when the
// count reaches zero. Stop cancels the countdown with no further ticks.
type Countdown struct {
	ticks   chan int
	expired chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func startCountdown(limit int, source TickerSource) *Countdown {
	c := &Countdown{
		ticks:   make(chan int, limit+1),
		expired: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	c.ticks <- limit

	tickC, stopTicker := source(time.Second)
	go func() {
		defer stopTicker()
		remaining := limit
		for remaining > 0 {
			select {
			case <-c.stop:
				return
			case <-tickC:
				remaining--
				select {
				case c.ticks <- remaining:
				case <-c.stop:
					return
				}
			}
		}
		c.expired <- struct{}{}
	}()
	return c
}

// Ticks delivers the strictly decreasing remaining-seconds sequence,
// from the full limit down to zero.
func (c *Countdown) Ticks() <-chan int { return c.ticks }

// Expired fires exactly once, after the zero tick has been emitted.
func (c *Countdown) Expired() <-chan struct{} { return c.expired }

// Done is closed when the countdown has been stopped.
func (c *Countdown) Done() <-chan struct{} { return c.stop }

// Stop cancels the countdown. Safe to call more than once.
func (c *Countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
}
