package seqbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/creachadair/mds/queue"
)

var (
	// ErrInvalidCapacity is reported by [New] for a capacity less than 1.
	ErrInvalidCapacity = errors.New("buffer capacity must be positive")

	// ErrClosed is reported by operations on a [Reader] or [Pipe] that has
	// been closed.
	ErrClosed = errors.New("closed")

	// ErrConcurrentNext is reported by [Reader.Next] when it is called while
	// another call to Next on the same reader is still in progress.
	ErrConcurrentNext = errors.New("concurrent call to Next")
)

// A Buffer is a [Sequence] that reads ahead from a base sequence into a
// bounded queue. Each iteration of the buffer is an independent [Reader].
type Buffer[T any] struct {
	base     Sequence[T]
	capacity int
}

// New constructs a [Buffer] that reads ahead at most capacity values from
// base. If capacity < 1, New reports an error wrapping [ErrInvalidCapacity].
// The base sequence is not used until the first value is requested.
func New[T any](base Sequence[T], capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity %d: %w", capacity, ErrInvalidCapacity)
	}
	return &Buffer[T]{base: base, capacity: capacity}, nil
}

// Cap reports the capacity of b.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Open returns a new [Reader] over a fresh iterator of the base sequence.
// The caller should close the reader when it is no longer needed.
func (b *Buffer[T]) Open() *Reader[T] {
	return &Reader[T]{
		base:      b.base,
		capacity:  b.capacity,
		queue:     queue.New[outcome[T]](),
		nextReady: newSlot(),
		fillReady: newSlot(),
		done:      make(chan struct{}),
	}
}

// Iter implements [Sequence]. It is equivalent to [Buffer.Open].
func (b *Buffer[T]) Iter() Iterator[T] { return b.Open() }

// An outcome is a single entry of the read-ahead queue: a value produced by
// the base, or the error that ended it.
type outcome[T any] struct {
	value T
	err   error
}

// A Reader delivers the values of a base sequence, read ahead by a
// background worker into a queue of bounded capacity.
//
// The worker starts on the first call to [Reader.Next]. It pulls values from
// the base as long as the queue has fewer than Cap entries, and otherwise
// waits for the consumer to remove one. It stops permanently when the base
// ends or reports an error, or when the reader is closed.
//
// A Reader supports one consumer. Next must not be called concurrently;
// a call that overlaps another reports [ErrConcurrentNext].
type Reader[T any] struct {
	base     Sequence[T] // read-only after initialization
	capacity int         // read-only after initialization

	// μ protects the fields below.
	μ         sync.Mutex
	queue     *queue.Queue[outcome[T]]
	started   bool  // the fill worker has been launched
	filling   bool  // the fill worker is (or was) running
	exhausted bool  // the base has ended or failed; never reset
	reading   bool  // a call to Next is in progress
	closed    bool  // Close has been called
	nextReady *slot // wakes a consumer waiting for a value
	fillReady *slot // wakes the worker waiting for room

	cancel context.CancelFunc // ends the worker's context
	done   chan struct{}      // closed when the worker returns
}

var (
	_ Iterator[any] = (*Reader[any])(nil)
	_ io.Closer     = (*Reader[any])(nil)
)

// Cap reports the capacity of the read-ahead queue.
func (r *Reader[T]) Cap() int { return r.capacity }

// Len reports the number of entries currently buffered in r.
// Len has no side effects and is safe to call at any time.
func (r *Reader[T]) Len() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.queue.Len()
}

// Next returns the next value of the sequence and true. At the end of the
// sequence, it returns a zero value and false.
//
// If the base sequence reports an error, Next returns that error after all
// the values that preceded it have been delivered. After an error has been
// returned, subsequent calls report the end of the sequence.
//
// If no value is buffered, Next blocks until the worker produces one or ctx
// ends. If ctx ends first, Next returns ctx.Err() and the reader remains
// usable. After r is closed, Next reports [ErrClosed].
func (r *Reader[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	r.μ.Lock()
	defer r.μ.Unlock()
	if r.closed {
		return zero, false, ErrClosed
	} else if r.reading {
		return zero, false, ErrConcurrentNext
	}
	r.reading = true
	defer func() { r.reading = false }() // N.B. runs before the unlock

	if !r.started {
		r.startLocked(ctx)
	}

	for r.queue.Len() == 0 && !r.exhausted {
		ready := r.nextReady.park()
		r.μ.Unlock()
		select {
		case <-ready:
			r.μ.Lock()
		case <-ctx.Done():
			r.μ.Lock()
			r.nextReady.unpark()
			return zero, false, ctx.Err()
		}
		if r.closed {
			return zero, false, ErrClosed
		}
	}

	front, ok := r.queue.Pop()
	if !ok {
		return zero, false, nil // the base is exhausted and the queue drained
	}
	if r.queue.Len() <= r.capacity {
		r.fillReady.wake()
	}
	if front.err != nil {
		return zero, false, front.err
	}
	return front.value, true, nil
}

// All returns a range function over the remaining values of r. If the
// sequence ends with an error, the error is yielded as the final pair.
// All does not close r.
func (r *Reader[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, ok, err := r.Next(ctx)
			if err != nil {
				yield(v, err)
				return
			} else if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Close stops the worker, discards any buffered values, and waits for the
// worker to exit. Close can be called concurrently with Next, and a call to
// Next blocked waiting for a value reports [ErrClosed]. If r is already
// closed, Close reports [ErrClosed].
//
// The worker exits after its current call to the base iterator returns; a
// base iterator that does not respect its context may delay Close.
func (r *Reader[T]) Close() error {
	r.μ.Lock()
	if r.closed {
		r.μ.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.queue = queue.New[outcome[T]]()
	r.nextReady.wake()
	r.fillReady.wake()
	started := r.started
	r.μ.Unlock()

	if started {
		r.cancel()
		<-r.done
	}
	return nil
}

// startLocked launches the fill worker. The worker's context carries the
// values of ctx but not its deadline or cancellation, so that a consumer
// giving up on one call to Next does not stop production.
// The caller must hold r.μ.
func (r *Reader[T]) startLocked(ctx context.Context) {
	r.started = true
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.fill(wctx)
}

// fill pulls values from a fresh iterator of the base into the queue until
// the base ends or fails, or ctx ends. It must be called exactly once per
// reader.
func (r *Reader[T]) fill(ctx context.Context) {
	r.μ.Lock()
	if r.filling {
		r.μ.Unlock()
		panic("fill started more than once")
	}
	r.filling = true
	r.μ.Unlock()
	defer close(r.done)

	it := r.base.Iter()
	defer func() {
		if c, ok := it.(io.Closer); ok {
			c.Close()
		}
	}()

	// Every exit path releases a waiting consumer.
	defer func() {
		r.μ.Lock()
		defer r.μ.Unlock()
		r.exhausted = true
		r.nextReady.wake()
	}()

	for {
		if !r.waitForRoom(ctx) {
			return
		}

		v, ok, err := it.Next(ctx)

		r.μ.Lock()
		if r.closed {
			r.μ.Unlock()
			return
		}
		switch {
		case err != nil:
			r.queue.Add(outcome[T]{err: err})
			r.exhausted = true
		case !ok:
			r.exhausted = true
		default:
			r.queue.Add(outcome[T]{value: v})
		}
		r.nextReady.wake()
		stop := r.exhausted
		r.μ.Unlock()

		if stop {
			return
		}
	}
}

// waitForRoom blocks until the queue has fewer than r.capacity entries, and
// reports whether the worker should continue.
func (r *Reader[T]) waitForRoom(ctx context.Context) bool {
	r.μ.Lock()
	defer r.μ.Unlock()
	for r.queue.Len() >= r.capacity && !r.closed {
		ready := r.fillReady.park()
		r.μ.Unlock()
		select {
		case <-ready:
			r.μ.Lock()
		case <-ctx.Done():
			r.μ.Lock()
			r.fillReady.unpark()
			return false
		}
	}
	return !r.closed
}
