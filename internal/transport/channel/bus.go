// Package channel provides the buffered bus carrying admitted run
// requests from the admission poller to the dispatcher workers.
package channel

import (
	"context"

	"github.com/runmill/runmill/internal/domain"
)

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type RunBus struct {
	ch      chan *domain.RunRequest
	metrics MetricsSink // optional, nil = disabled
}

type Option func(*RunBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *RunBus) {
		b.metrics = sink
	}
}

func NewRunBus(buffer int, opts ...Option) *RunBus {
	b := &RunBus{
		ch: make(chan *domain.RunRequest, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit hands a request to the workers, blocking only until ctx is done
// when the buffer is full.
func (b *RunBus) Emit(ctx context.Context, req *domain.RunRequest) error {
	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *RunBus) Channel() <-chan *domain.RunRequest {
	return b.ch
}

// Len reports the number of buffered requests.
func (b *RunBus) Len() int {
	return len(b.ch)
}
