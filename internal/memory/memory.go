// Package memory provides host and device buffers with a logical size that
// may be smaller than their capacity. Buffers are owned by the application;
// tasks issued on them only borrow them.
package memory

import (
	stderrors "errors"
	"runtime"

	"github.com/samcharles93/accelq/internal/logger"
)

// ErrViewsAlive is returned by Close while views of the buffer are open.
var ErrViewsAlive = stderrors.New("memory: buffer has open views")

// DefaultPitchAlignment is the row alignment of pitched device buffers.
const DefaultPitchAlignment = 256

type options struct {
	sizeOnDevice bool
	linearBase   bool
	align        int64
	workers      int
	log          logger.Logger
}

type Option func(*options)

// WithSizeOnDevice keeps a copy of the logical size in device memory for
// kernels that read or shrink it.
func WithSizeOnDevice() Option {
	return func(o *options) { o.sizeOnDevice = true }
}

// WithLinearBase stores N-dimensional data densely so it can also be
// addressed as one line.
func WithLinearBase() Option {
	return func(o *options) { o.linearBase = true }
}

// WithPitchAlignment rounds rows of rank 2 and 3 buffers up to align bytes.
func WithPitchAlignment(align int64) Option {
	return func(o *options) { o.align = align }
}

// WithWorkers sets how many goroutines host fills use.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{align: DefaultPitchAlignment, workers: runtime.NumCPU(), log: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.align <= 0 {
		o.align = 1
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	return o
}
