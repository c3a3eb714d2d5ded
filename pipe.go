package seqbuf

import (
	"context"
	"sync"
)

// A Pipe is a [Sequence] whose values are pushed by one or more writers.
// Writers call [Pipe.Send] to add values, and [Pipe.Close] or [Pipe.Fail]
// to end the sequence. The values are delivered in the order they were sent.
//
// A pipe wraps a buffered channel, but when p is closed any pending sends
// are safely terminated and report errors rather than panicking.
//
// All iterators of a pipe share its channel, so a pipe is meant to be
// consumed by a single iterator.
type Pipe[T any] struct {
	recv <-chan T      // delivers values to the reader; read-only
	done chan struct{} // closed when the pipe is closed

	// μ protects the fields below:
	// Lock μ shared to send to ch or read err.
	// Lock μ exclusively to close ch or modify either field.
	μ   sync.RWMutex
	ch  chan T
	err error // reported to the reader after the last value
}

// NewPipe creates a new empty pipe with the specified channel buffer
// capacity. If n == 0, each send waits for the reader.
func NewPipe[T any](n int) *Pipe[T] {
	ch := make(chan T, n)
	return &Pipe[T]{recv: ch, done: make(chan struct{}), ch: ch}
}

// Send sends v to the pipe. It blocks until v is buffered or delivered, p
// closes, or ctx ends. If p closes or ctx ends before v is sent, Send reports
// an error; otherwise Send returns nil.
func (p *Pipe[T]) Send(ctx context.Context, v T) error {
	p.μ.RLock()
	defer p.μ.RUnlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.ch <- v:
		return nil
	}
}

// Close closes the pipe. The reader receives any values already sent and then
// the end of the sequence. Pending sends fail with [ErrClosed].
// If p is already closed, Close returns ErrClosed. Close and Fail can be
// called repeatedly, but from at most one goroutine at a time.
func (p *Pipe[T]) Close() error { return p.closeWith(nil) }

// Fail closes the pipe like [Pipe.Close], but the reader receives err after
// the values already sent, in place of the end of the sequence.
func (p *Pipe[T]) Fail(err error) error { return p.closeWith(err) }

func (p *Pipe[T]) closeWith(err error) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
		close(p.done)

		p.μ.Lock()
		defer p.μ.Unlock()
		p.err = err
		close(p.ch)
		p.ch = nil // no future sender must see p.ch as ready
		return nil
	}
}

// Iter implements [Sequence]. The iterator delivers the values sent to p.
func (p *Pipe[T]) Iter() Iterator[T] { return IterFunc[T](p.next) }

func (p *Pipe[T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case v, ok := <-p.recv:
		if ok {
			return v, true, nil
		}
		p.μ.RLock()
		defer p.μ.RUnlock()
		return zero, false, p.err
	}
}
