package sched

import (
	"context"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"golang.org/x/time/rate"

	"github.com/samcharles93/accelq/internal/logger"
)

// Stats counts tasks by kind.
type Stats struct {
	Issued      map[string]int64 `json:"issued"`
	Finished    map[string]int64 `json:"finished"`
	Outstanding int              `json:"outstanding"`
}

// Manager tracks issued tasks until their completion is observed.
type Manager struct {
	log       logger.Logger
	warnAfter time.Duration
	slow      *rate.Limiter
	tracer    *Tracer

	mu      sync.Mutex
	live    map[ID]*task
	issued  [numKinds]int64
	retired [numKinds]int64
	subs    map[int]func(Notification)
	nextSub int
}

func newManager(log logger.Logger, warnAfter time.Duration, tracer *Tracer) *Manager {
	return &Manager{
		log:       log,
		warnAfter: warnAfter,
		slow:      rate.NewLimiter(rate.Every(time.Second), 3),
		tracer:    tracer,
		live:      make(map[ID]*task),
		subs:      make(map[int]func(Notification)),
	}
}

func (m *Manager) add(t *task) {
	m.mu.Lock()
	m.live[t.id] = t
	m.issued[t.kind]++
	m.mu.Unlock()
	m.tracer.emit("start", t)
}

// finished reports t to the tracer and subscribers, then retires it. WaitAll
// returns only after retirement, so every report precedes it.
func (m *Manager) finished(t *task, n Notification) {
	m.tracer.emit("end", t)

	m.mu.Lock()
	subs := make([]func(Notification), 0, len(m.subs))
	for _, k := range slices.Sorted(maps.Keys(m.subs)) {
		subs = append(subs, m.subs[k])
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(n)
	}

	m.mu.Lock()
	delete(m.live, t.id)
	m.retired[t.kind]++
	m.mu.Unlock()
}

// snapshot returns the live tasks in issue order.
func (m *Manager) snapshot() []*task {
	m.mu.Lock()
	out := make([]*task, 0, len(m.live))
	for _, t := range m.live {
		out = append(out, t)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *task) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// Poll finishes every task whose work is done and returns how many did.
func (m *Manager) Poll() int {
	n := 0
	for _, t := range m.snapshot() {
		if t.State() != StateFinished && t.Poll() {
			n++
		}
	}
	return n
}

// WaitAll blocks until every task issued so far, and any issued while
// waiting, has finished.
func (m *Manager) WaitAll() {
	for {
		live := m.snapshot()
		if len(live) == 0 {
			return
		}
		for _, t := range live {
			t.WaitForFinished()
		}
		// Finished tasks may still be reporting.
		runtime.Gosched()
	}
}

// Run polls every interval until ctx is done. A device fault stops the loop
// and is returned as a *FatalError.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := exceptions.TryCatch[error](func() { m.Poll() }); err != nil {
				m.log.Error("task polling stopped", "error", err)
				return err
			}
		}
	}
}

// Subscribe registers fn for every completion notification. The returned
// function removes it.
func (m *Manager) Subscribe(fn func(Notification)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Outstanding returns the number of issued tasks not yet observed finished.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Issued: map[string]int64{}, Finished: map[string]int64{}, Outstanding: len(m.live)}
	for k := Kind(0); k < numKinds; k++ {
		if m.issued[k] > 0 {
			s.Issued[k.String()] = m.issued[k]
		}
		if m.retired[k] > 0 {
			s.Finished[k.String()] = m.retired[k]
		}
	}
	return s
}

// watch arms the slow-wait warning for t and returns its disarm function.
func (m *Manager) watch(t *task) func() {
	if m.warnAfter <= 0 {
		return func() {}
	}
	start := time.Now()
	timer := time.AfterFunc(m.warnAfter, func() {
		if m.slow.Allow() {
			m.log.Warn("task still running",
				"task", uint64(t.id),
				"kind", t.kind.String(),
				"place", t.place.String(),
				"waited", time.Since(start).Round(time.Millisecond),
			)
		}
	})
	return func() { timer.Stop() }
}
