// Package sched chains asynchronous device work. Every task issued for a
// place implicitly waits for the previous task of that place; completion is
// observed through events recorded behind the work on a stream.
package sched

import (
	"fmt"
	"sync/atomic"
)

// ID identifies a task. IDs are unique within the process; 0 is the
// finished sentinel.
type ID uint64

var lastID atomic.Uint64

func nextID() ID {
	return ID(lastID.Add(1))
}

// Place is the execution resource a task's chain belongs to.
type Place int

const (
	PlaceDevice Place = iota
	PlaceHost
	PlaceMessagePassing
	numPlaces
)

func (p Place) String() string {
	switch p {
	case PlaceDevice:
		return "device"
	case PlaceHost:
		return "host"
	case PlaceMessagePassing:
		return "mpi"
	default:
		return fmt.Sprintf("place(%d)", int(p))
	}
}

// Kind tags the operation a task performs.
type Kind int

const (
	KindCopyH2D Kind = iota
	KindCopyD2H
	KindCopyD2D
	KindSetValue
	KindSetSize
	KindKernel
	KindGetSize
	KindHost
	KindExternal
	KindLogicalAnd
	numKinds
)

var kindNames = [...]string{
	KindCopyH2D:    "COPY_H2D",
	KindCopyD2H:    "COPY_D2H",
	KindCopyD2D:    "COPY_D2D",
	KindSetValue:   "SET_VALUE",
	KindSetSize:    "SET_SIZE",
	KindKernel:     "KERNEL",
	KindGetSize:    "GET_SIZE",
	KindHost:       "HOST",
	KindExternal:   "EXTERNAL",
	KindLogicalAnd: "LOGICAL_AND",
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// State is the lifecycle position of a task.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Notification is delivered once per finished task.
type Notification struct {
	TaskID      ID     `json:"task"`
	Kind        Kind   `json:"-"`
	Place       Place  `json:"-"`
	Description string `json:"description"`
}

// FatalError is the panic value for device failures observed while issuing
// or tracking a task.
type FatalError struct {
	Task        ID
	Kind        Kind
	Place       Place
	Description string
	Op          string
	Err         error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sched: %s: task %d %s (%s) on %s: %v",
		e.Op, e.Task, e.Kind, e.Description, e.Place, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
