package sched

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
)

// Task is one unit of asynchronous work. Factory methods return tasks that
// are already initialized; Init is exposed for tasks built elsewhere in the
// package and panics when called twice.
type Task interface {
	ID() ID
	Kind() Kind
	Place() Place
	State() State
	Init()
	// Poll checks for completion without blocking and finishes the task
	// when it is done.
	Poll() bool
	IsFinished() bool
	// WaitForFinished blocks the caller until this task is done. Other
	// streams keep running.
	WaitForFinished()
	Describe() string

	leaves() []*task
}

type mode int

const (
	modeStream mode = iota
	modeHost
	modeExternal
	modeAnd
	modeDone
)

type task struct {
	s     *Scheduler
	id    ID
	kind  Kind
	place Place
	mode  mode
	desc  string

	state atomic.Int32

	// prepare runs before the place lock is taken and may issue tasks.
	prepare func()
	// enqueue submits the work of a stream task.
	enqueue func(st *Stream) error
	// run is the body of a host task.
	run func()
	// start begins an external task and returns its completion check.
	start func() func() bool
	// hooks run once the work is done, before waiters are released.
	hooks     []func()
	callbacks []func(Notification)

	mu       sync.Mutex
	pred     Task
	event    Event
	stream   *Stream
	holds    int
	check    func() bool
	parts    []*task
	finished bool

	// ran is closed once the body of a host task returned.
	ran  chan struct{}
	done chan struct{}
}

var finishedTask = func() *task {
	t := &task{kind: KindLogicalAnd, mode: modeDone, desc: "finished", done: make(chan struct{})}
	t.state.Store(int32(StateFinished))
	close(t.done)
	return t
}()

// Finished returns the sentinel task that is always complete. Chaining on
// it is a no-op.
func Finished() Task {
	return finishedTask
}

// And returns a task that finishes once every given task has finished.
// Finished inputs are dropped; a single remaining input is returned as is.
func And(tasks ...Task) Task {
	var parts []*task
	seen := make(map[*task]struct{})
	for _, x := range tasks {
		if x == nil {
			continue
		}
		for _, leaf := range x.leaves() {
			if leaf.mode == modeDone || leaf.State() == StateFinished {
				continue
			}
			if _, dup := seen[leaf]; dup {
				continue
			}
			seen[leaf] = struct{}{}
			parts = append(parts, leaf)
		}
	}
	switch len(parts) {
	case 0:
		return finishedTask
	case 1:
		return parts[0]
	}
	a := &task{id: nextID(), kind: KindLogicalAnd, place: parts[0].place, mode: modeAnd, parts: parts, done: make(chan struct{})}
	a.state.Store(int32(StateInitialized))
	return a
}

func (t *task) ID() ID       { return t.id }
func (t *task) Kind() Kind   { return t.kind }
func (t *task) Place() Place { return t.place }

func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) Describe() string {
	if t.mode == modeAnd {
		ids := make([]string, len(t.parts))
		for i, p := range t.parts {
			ids[i] = fmt.Sprintf("#%d", p.id)
		}
		return fmt.Sprintf("%s #%d of %s", t.kind, t.id, strings.Join(ids, ", "))
	}
	if t.desc == "" {
		return fmt.Sprintf("%s #%d on %s", t.kind, t.id, t.place)
	}
	return fmt.Sprintf("%s #%d on %s: %s", t.kind, t.id, t.place, t.desc)
}

func (t *task) String() string {
	return t.Describe()
}

func (t *task) leaves() []*task {
	if t.mode == modeAnd {
		return t.parts
	}
	return []*task{t}
}

func (t *task) Init() {
	if t.State() != StateCreated {
		exceptions.Panicf("sched: %s initialized twice", t.Describe())
	}
	if t.mode == modeAnd || t.mode == modeDone {
		exceptions.Panicf("sched: %s cannot be issued", t.Describe())
	}
	if t.prepare != nil {
		t.prepare()
	}
	// Predecessors whose work was awaited under the place lock are finished
	// here so their callbacks may issue tasks for the same place.
	for _, p := range t.issue() {
		p.WaitForFinished()
	}
	if t.mode == modeHost {
		t.run()
		close(t.ran)
		t.finish()
	}
}

// issue chains t behind the current task of its place. Reading the current
// task and installing t happen under the place lock. It returns the
// predecessors that are done but may still need finishing.
func (t *task) issue() (settle []*task) {
	tm := t.s.tm
	tm.lock(t.place)
	defer tm.unlock(t.place)

	pred := tm.predecessor(t.place)
	switch t.mode {
	case modeStream:
		st := t.s.pickStream(pred)
		for _, p := range pred.leaves() {
			if t.after(p, st) {
				settle = append(settle, p)
			}
		}
		if err := t.enqueue(st); err != nil {
			t.fatal("enqueue", err)
		}
		t.activate(st)
	case modeHost:
		for _, p := range pred.leaves() {
			p.awaitWork()
			settle = append(settle, p)
		}
	}
	t.mu.Lock()
	t.pred = pred
	t.mu.Unlock()

	t.s.manager.add(t)
	t.state.Store(int32(StateInitialized))
	tm.install(t)
	return settle
}

// after orders work on st behind p. Host and external predecessors are
// awaited on the caller; after reports whether p still needs finishing.
func (t *task) after(p *task, st *Stream) bool {
	switch p.mode {
	case modeDone:
		return false
	case modeStream:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.finished || !p.event.Valid() {
			return false
		}
		if err := st.WaitOn(&p.event); err != nil {
			t.fatal("wait on predecessor", err)
		}
		return false
	default:
		p.awaitWork()
		return true
	}
}

// workDone reports whether the work of t is complete without finishing t,
// so no hooks or callbacks run.
func (t *task) workDone() bool {
	if t.State() == StateFinished {
		return true
	}
	switch t.mode {
	case modeDone:
		return true
	case modeHost:
		select {
		case <-t.ran:
			return true
		default:
			return false
		}
	case modeAnd:
		for _, p := range t.parts {
			if !p.workDone() {
				return false
			}
		}
		return true
	default:
		return t.ready()
	}
}

// awaitWork blocks until workDone holds.
func (t *task) awaitWork() {
	if t.mode == modeHost {
		<-t.ran
		return
	}
	backoff := 10 * time.Microsecond
	for !t.workDone() {
		time.Sleep(backoff)
		backoff = min(backoff*2, time.Millisecond)
	}
}

// activate records the completion event behind the enqueued work.
func (t *task) activate(st *Stream) {
	ev, err := t.s.events.Get()
	if err != nil {
		t.fatal("acquire event", err)
	}
	if err := ev.Record(st); err != nil {
		t.s.events.Put(&ev)
		t.fatal("record event", err)
	}
	t.mu.Lock()
	t.event = ev
	t.stream = st
	t.mu.Unlock()
}

func (t *task) IsFinished() bool {
	return t.Poll()
}

func (t *task) Poll() bool {
	switch t.State() {
	case StateFinished:
		return true
	case StateCreated:
		return false
	}
	if t.ready() {
		t.finish()
		return true
	}
	return false
}

func (t *task) ready() bool {
	switch t.mode {
	case modeStream:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.finished || !t.event.Valid() {
			return true
		}
		done, err := t.event.IsFinished()
		if err != nil {
			t.fatal("query event", err)
		}
		return done
	case modeExternal:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.check == nil {
			if t.pred == nil {
				return true
			}
			for _, p := range t.pred.leaves() {
				if !p.workDone() {
					return false
				}
			}
			t.check = t.start()
		}
		return t.check()
	case modeAnd:
		for _, p := range t.parts {
			if !p.Poll() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (t *task) WaitForFinished() {
	if t.Poll() {
		return
	}
	if t.State() == StateCreated {
		exceptions.Panicf("sched: WaitForFinished on %s before Init", t.Describe())
	}
	if t.s != nil {
		defer t.s.manager.watch(t)()
	}
	switch t.mode {
	case modeStream:
		t.mu.Lock()
		if t.finished || !t.event.Valid() {
			t.mu.Unlock()
			break
		}
		t.holds++
		ev := t.event
		t.mu.Unlock()

		err := ev.Synchronize()

		t.mu.Lock()
		t.holds--
		t.releaseLocked()
		t.mu.Unlock()
		if err != nil {
			t.fatal("synchronize event", err)
		}
	case modeExternal:
		t.mu.Lock()
		pred := t.pred
		t.mu.Unlock()
		if pred != nil {
			pred.WaitForFinished()
		}
		backoff := 10 * time.Microsecond
		for !t.ready() {
			time.Sleep(backoff)
			backoff = min(backoff*2, time.Millisecond)
		}
	case modeAnd:
		for _, p := range t.parts {
			p.WaitForFinished()
		}
	case modeHost:
		<-t.done
		return
	}
	t.finish()
}

// finish runs completion exactly once. Concurrent callers return after the
// hooks and notifications ran.
func (t *task) finish() {
	if !t.state.CompareAndSwap(int32(StateInitialized), int32(StateFinished)) {
		<-t.done
		return
	}
	t.mu.Lock()
	pred := t.pred
	t.pred = nil
	t.mu.Unlock()
	// Same-place predecessors completed first on the device; report them
	// first as well.
	if pred != nil {
		pred.WaitForFinished()
	}

	t.mu.Lock()
	t.finished = true
	t.releaseLocked()
	t.mu.Unlock()

	for _, h := range t.hooks {
		h()
	}
	defer close(t.done)
	if t.mode == modeAnd {
		return
	}
	n := Notification{TaskID: t.id, Kind: t.kind, Place: t.place, Description: t.desc}
	for _, cb := range t.callbacks {
		cb(n)
	}
	t.s.manager.finished(t, n)
}

// releaseLocked returns the event token to the pool once the task finished
// and no waiter still uses it.
func (t *task) releaseLocked() {
	if t.finished && t.holds == 0 && t.event.Valid() {
		t.s.events.Put(&t.event)
	}
}

func (t *task) fatal(op string, err error) {
	fe := &FatalError{Task: t.id, Kind: t.kind, Place: t.place, Description: t.desc, Op: op, Err: err}
	if t.s != nil {
		t.s.log.Error("device fault", "task", t.id, "kind", t.kind.String(), "place", t.place.String(), "op", op, "error", err)
	}
	panic(fe)
}
