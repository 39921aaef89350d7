package sched

import (
	"sync"

	"github.com/gomlx/exceptions"
)

type transaction struct {
	start Task
	union Task
	// joined marks places whose first task already waited for start.
	joined [numPlaces]bool
}

// TransactionManager keeps the current task of every place and the stack of
// open transactions. Transactions are expected to be opened and closed by
// one issuing goroutine.
type TransactionManager struct {
	places [numPlaces]sync.Mutex

	mu    sync.Mutex
	heads [numPlaces]Task
	stack []*transaction
}

func newTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

func (m *TransactionManager) lock(p Place) {
	m.places[p].Lock()
}

func (m *TransactionManager) unlock(p Place) {
	m.places[p].Unlock()
}

// Head returns the current task of place p, or Finished.
func (m *TransactionManager) Head(p Place) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headLocked(p)
}

func (m *TransactionManager) headLocked(p Place) Task {
	if h := m.heads[p]; h != nil {
		return h
	}
	return finishedTask
}

// predecessor returns what the next task of p must wait for.
func (m *TransactionManager) predecessor(p Place) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	head := m.headLocked(p)
	if n := len(m.stack); n > 0 {
		top := m.stack[n-1]
		if !top.joined[p] {
			top.joined[p] = true
			return And(head, top.start)
		}
	}
	return head
}

func (m *TransactionManager) install(t *task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads[t.place] = t
	if n := len(m.stack); n > 0 {
		top := m.stack[n-1]
		top.union = And(top.union, t)
	}
}

// StartTransaction opens a transaction whose first task of every place also
// waits for serial. A nil serial starts unconstrained.
func (m *TransactionManager) StartTransaction(serial Task) {
	if serial == nil {
		serial = finishedTask
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = append(m.stack, &transaction{start: serial, union: serial})
}

// EndTransaction closes the innermost transaction and returns the union of
// its start task and every task issued inside it.
func (m *TransactionManager) EndTransaction() Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.stack)
	if n == 0 {
		exceptions.Panicf("sched: EndTransaction without an open transaction")
	}
	top := m.stack[n-1]
	m.stack = m.stack[:n-1]
	if n > 1 {
		outer := m.stack[n-2]
		outer.union = And(outer.union, top.union)
	}
	return top.union
}

// TransactionEvent returns the union of the innermost transaction, or of
// the current tasks of all places when none is open.
func (m *TransactionManager) TransactionEvent() Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.stack); n > 0 {
		return m.stack[n-1].union
	}
	heads := make([]Task, 0, numPlaces)
	for p := Place(0); p < numPlaces; p++ {
		heads = append(heads, m.headLocked(p))
	}
	return And(heads...)
}

// SetTransactionEvent adds t to the innermost transaction's union.
func (m *TransactionManager) SetTransactionEvent(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.stack)
	if n == 0 {
		exceptions.Panicf("sched: SetTransactionEvent without an open transaction")
	}
	m.stack[n-1].union = And(m.stack[n-1].union, t)
}

// Depth returns the number of open transactions.
func (m *TransactionManager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}
