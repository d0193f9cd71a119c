package common

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs a cleanup function on a fixed interval until stopped.
// A panicking cycle is logged and does not unschedule future cycles.
type Sweeper struct {
	interval  time.Duration
	fn        func()
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(interval time.Duration, fn func()) *Sweeper {
	return &Sweeper{
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Stop terminates the sweep loop and waits for it to exit. Safe to call
// multiple times, and returns immediately when the loop never ran.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		// consume startOnce: if the loop was never launched there is
		// nothing to wait for, and it must not launch afterwards
		s.startOnce.Do(func() {
			close(s.stopped)
		})
	})
	<-s.stopped
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Sweeper) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sweep cycle panicked", "error", r)
		}
	}()
	s.fn()
}
