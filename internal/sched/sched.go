// Package sched abstracts periodic task scheduling so the engine's
// loops can be driven by a real ticker in production and by hand in
// tests.
package sched

import (
	"sync"
	"time"
)

// Handle cancels a scheduled task. Stop is idempotent.
type Handle interface {
	Stop()
}

// Scheduler runs functions periodically.
type Scheduler interface {
	// Every invokes fn every interval until the handle is stopped.
	// When immediate is set, fn also runs once right away on the
	// caller's goroutine.
	Every(interval time.Duration, immediate bool, fn func()) Handle
}

// Ticker is the wall-clock Scheduler.
type Ticker struct{}

type tickerHandle struct {
	stop chan struct{}
	once sync.Once
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

func (Ticker) Every(interval time.Duration, immediate bool, fn func()) Handle {
	h := &tickerHandle{stop: make(chan struct{})}
	if immediate {
		fn()
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return h
}

// Manual is a test Scheduler whose tasks only run when ticked
// explicitly.
type Manual struct {
	mu   sync.Mutex
	jobs []*manualJob
}

type manualJob struct {
	fn      func()
	stopped bool
	mu      *sync.Mutex
}

func (j *manualJob) Stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
}

// NewManual creates an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Every(_ time.Duration, immediate bool, fn func()) Handle {
	j := &manualJob{fn: fn, mu: &m.mu}
	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.mu.Unlock()
	if immediate {
		fn()
	}
	return j
}

// Len reports how many tasks have ever been scheduled.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Tick runs the i-th scheduled task once, in registration order.
// Stopped tasks are skipped.
func (m *Manual) Tick(i int) {
	m.mu.Lock()
	if i < 0 || i >= len(m.jobs) {
		m.mu.Unlock()
		return
	}
	j := m.jobs[i]
	stopped := j.stopped
	m.mu.Unlock()

	if !stopped {
		j.fn()
	}
}

// TickAll runs every active task once.
func (m *Manual) TickAll() {
	m.mu.Lock()
	n := len(m.jobs)
	m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.Tick(i)
	}
}
