package sched

import (
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TraceRecord is one line of the task trace.
type TraceRecord struct {
	Session     string `json:"session"`
	Phase       string `json:"phase"`
	Task        ID     `json:"task"`
	Kind        string `json:"kind"`
	Place       string `json:"place"`
	Stream      int    `json:"stream,omitempty"`
	Description string `json:"description"`
	Micros      int64  `json:"t_us"`
}

// Tracer writes task start and end records as JSON lines. A nil Tracer
// discards records.
type Tracer struct {
	session uuid.UUID
	epoch   time.Time

	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewTracer(w io.Writer) *Tracer {
	return &Tracer{session: uuid.New(), epoch: time.Now(), enc: json.NewEncoder(w)}
}

func (tr *Tracer) Session() uuid.UUID {
	return tr.session
}

// Err returns the first write error.
func (tr *Tracer) Err() error {
	if tr == nil {
		return nil
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.err
}

func (tr *Tracer) emit(phase string, t *task) {
	if tr == nil {
		return
	}
	rec := TraceRecord{
		Session:     tr.session.String(),
		Phase:       phase,
		Task:        t.id,
		Kind:        t.kind.String(),
		Place:       t.place.String(),
		Description: t.desc,
		Micros:      time.Since(tr.epoch).Microseconds(),
	}
	t.mu.Lock()
	if t.stream != nil {
		rec.Stream = t.stream.ID()
	}
	t.mu.Unlock()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.err != nil {
		return
	}
	tr.err = tr.enc.Encode(rec)
}
