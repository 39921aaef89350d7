package sim

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

// queue is an in-order work list drained by one goroutine. Submission never
// blocks on execution.
type queue struct {
	dev *Device

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []func()
	busy   bool
	closed bool
	done   chan struct{}
}

var _ accel.Queue = (*queue)(nil)

func newQueue(d *Device) *queue {
	q := &queue{dev: d, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *queue) loop() {
	defer close(q.done)
	q.mu.Lock()
	for {
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.ops[0]
		q.ops[0] = nil
		q.ops = q.ops[1:]
		q.busy = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

func (q *queue) submit(fn func()) error {
	if err := q.dev.Fault(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return accel.ErrDestroyed
	}
	q.ops = append(q.ops, fn)
	q.cond.Broadcast()
	return nil
}

func (q *queue) drain() {
	q.mu.Lock()
	for len(q.ops) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *queue) Copy(op accel.CopyOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	dir := op.Direction()
	dst, dstOK := op.Dst.Mem.(accel.Addressable)
	src, srcOK := op.Src.Mem.(accel.Addressable)
	if !dstOK || !srcOK {
		return errors.New("sim: copy endpoint is not sim memory")
	}
	return q.submit(func() {
		q.dev.exec("copy "+dir.String(), func() error {
			dstBuf, srcBuf := dst.Bytes(), src.Bytes()
			op.Rows(func(d, s, n int64) {
				copy(dstBuf[d:d+n], srcBuf[s:s+n])
			})
			q.dev.stats.copies[dir].Add(1)
			q.dev.stats.bytes[dir].Add(op.Bytes())
			return nil
		})
	})
}

func (q *queue) Memset(dst accel.Span, box layout.Space, value byte) error {
	mem, ok := dst.Mem.(accel.Addressable)
	if !ok {
		return errors.New("sim: memset target is not sim memory")
	}
	if !dst.Layout.Extent.Covers(box) {
		return errors.Errorf("sim: memset box %s exceeds extent %s", box, dst.Layout.Extent)
	}
	return q.submit(func() {
		q.dev.exec("memset", func() error {
			buf := mem.Bytes()
			accel.MemsetRows(dst, box, func(off, n int64) {
				row := buf[off : off+n]
				for i := range row {
					row[i] = value
				}
			})
			q.dev.stats.memsets.Add(1)
			return nil
		})
	})
}

func (q *queue) Launch(k *accel.Kernel, cfg accel.LaunchConfig, args ...any) error {
	if k == nil || k.Func == nil {
		name := "<nil>"
		if k != nil {
			name = k.Name
		}
		return errors.Wrapf(accel.ErrNoKernelBody, "sim: kernel %s", name)
	}
	if cfg.Grid.Count() <= 0 || cfg.Block.Count() <= 0 {
		return errors.Errorf("sim: kernel %s: empty launch %s", k.Name, cfg)
	}
	return q.submit(func() {
		q.dev.exec("kernel "+k.Name, func() error {
			return q.dev.runBlocks(k, cfg, args)
		})
	})
}

func (q *queue) Enqueue(fn func() error) error {
	return q.submit(func() {
		q.dev.exec("host callback", fn)
		q.dev.stats.host.Add(1)
	})
}

// runBlocks executes every block of the grid on up to dev.workers
// goroutines and returns the first failure.
func (d *Device) runBlocks(k *accel.Kernel, cfg accel.LaunchConfig, args []any) error {
	total := cfg.Grid.Count()
	workers := int64(d.workers)
	if workers > total {
		workers = total
	}
	var (
		next     atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for w := int64(0); w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= total {
					return
				}
				b := accel.Block{Idx: cfg.Grid.Unflatten(i), Dim: cfg.Block, Grid: cfg.Grid, Args: args}
				if exception := exceptions.Try(func() { k.Func(b) }); exception != nil {
					errOnce.Do(func() { firstErr = asError(exception) })
					return
				}
			}
		}()
	}
	wg.Wait()
	d.stats.launches.Add(1)
	d.stats.blocks.Add(total)
	return firstErr
}

func (q *queue) Record(ev accel.Event) error {
	e, ok := ev.(*event)
	if !ok || e.dev != q.dev {
		return errors.New("sim: event belongs to another device")
	}
	ch, err := e.arm()
	if err != nil {
		return err
	}
	return q.submit(func() { close(ch) })
}

func (q *queue) Wait(ev accel.Event) error {
	e, ok := ev.(*event)
	if !ok {
		return errors.New("sim: foreign event")
	}
	ch := e.current()
	if ch == nil {
		return nil
	}
	return q.submit(func() { <-ch })
}

func (q *queue) Synchronize() error {
	q.drain()
	return q.dev.Fault()
}

// Destroy runs the remaining work and stops the worker.
func (q *queue) Destroy() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done

	q.dev.mu.Lock()
	delete(q.dev.queues, q)
	q.dev.mu.Unlock()
	return nil
}
