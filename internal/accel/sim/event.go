package sim

import (
	"sync"

	"github.com/samcharles93/accelq/internal/accel"
)

// event completes when the channel armed by its latest Record is closed.
type event struct {
	dev *Device

	mu        sync.Mutex
	done      chan struct{}
	destroyed bool
}

var _ accel.Event = (*event)(nil)

func (e *event) arm() (chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, accel.ErrDestroyed
	}
	e.done = make(chan struct{})
	return e.done, nil
}

func (e *event) current() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *event) Query() (bool, error) {
	ch := e.current()
	if ch == nil {
		return true, e.dev.Fault()
	}
	select {
	case <-ch:
		return true, e.dev.Fault()
	default:
		return false, e.dev.Fault()
	}
}

func (e *event) Synchronize() error {
	if ch := e.current(); ch != nil {
		<-ch
	}
	return e.dev.Fault()
}

func (e *event) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return accel.ErrDestroyed
	}
	e.destroyed = true
	return nil
}
