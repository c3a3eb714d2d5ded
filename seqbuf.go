// Package seqbuf implements a bounded read-ahead buffer for pull iterators.
//
// A [Buffer] wraps a base [Sequence]. Each consumption of the buffer, begun
// by [Buffer.Open], runs a single background worker that pulls values from
// the base sequence into a queue of fixed capacity while the consumer reads
// from the front of the queue. The worker runs ahead of the consumer by at
// most the capacity of the buffer; once the queue is full, it waits until
// the consumer has made room.
//
// Values are delivered in the order the base sequence produced them. An
// error from the base sequence ends the sequence: it is delivered once, after
// every value that preceded it, and the base is never pulled again.
package seqbuf

import (
	"context"
	"io"
	"iter"
)

// An Iterator produces the values of a sequence one at a time.
//
// Next returns the next value and true, or reports false when the sequence is
// over. A non-nil error also ends the sequence. Next must not be called again
// after it has reported the end of the sequence or an error.
//
// If an Iterator also implements [io.Closer], its owner calls Close when it
// has finished with it.
type Iterator[T any] interface {
	Next(ctx context.Context) (T, bool, error)
}

// A Sequence is a source of values that can be iterated.
// Each call to Iter returns a fresh iterator.
type Sequence[T any] interface {
	Iter() Iterator[T]
}

// IterFunc adapts a function to the [Iterator] interface.
type IterFunc[T any] func(context.Context) (T, bool, error)

// Next implements [Iterator] by calling f.
func (f IterFunc[T]) Next(ctx context.Context) (T, bool, error) { return f(ctx) }

// SeqFunc adapts a function to the [Sequence] interface.
type SeqFunc[T any] func() Iterator[T]

// Iter implements [Sequence] by calling f.
func (f SeqFunc[T]) Iter() Iterator[T] { return f() }

// Slice returns a [Sequence] that delivers the elements of vs in order.
func Slice[T any](vs ...T) Sequence[T] {
	return SeqFunc[T](func() Iterator[T] {
		var i int
		return IterFunc[T](func(ctx context.Context) (T, bool, error) {
			var zero T
			if err := ctx.Err(); err != nil {
				return zero, false, err
			} else if i >= len(vs) {
				return zero, false, nil
			}
			i++
			return vs[i-1], true, nil
		})
	})
}

// FromSeq returns a [Sequence] that delivers the values of seq.
// Each iterator of the result runs seq with [iter.Pull], and implements
// [io.Closer] to stop it early.
func FromSeq[T any](seq iter.Seq[T]) Sequence[T] {
	return SeqFunc[T](func() Iterator[T] {
		next, stop := iter.Pull(seq)
		return &pullIter[T]{
			next: func() (T, bool, error) {
				v, ok := next()
				return v, ok, nil
			},
			stop: stop,
		}
	})
}

// FromSeq2 returns a [Sequence] that delivers the values of seq.
// The first pair with a non-nil error ends the sequence with that error.
// Each iterator of the result implements [io.Closer] to stop seq early.
func FromSeq2[T any](seq iter.Seq2[T, error]) Sequence[T] {
	return SeqFunc[T](func() Iterator[T] {
		next, stop := iter.Pull2(seq)
		return &pullIter[T]{
			next: func() (T, bool, error) {
				v, err, ok := next()
				return v, ok, err
			},
			stop: stop,
		}
	})
}

type pullIter[T any] struct {
	next func() (T, bool, error)
	stop func()
}

var _ io.Closer = (*pullIter[int])(nil)

func (p *pullIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		p.stop()
		return zero, false, err
	}
	v, ok, err := p.next()
	if !ok {
		return zero, false, nil
	} else if err != nil {
		p.stop()
		return zero, false, err
	}
	return v, true, nil
}

// Close stops the underlying iterator. It is safe to call more than once.
func (p *pullIter[T]) Close() error { p.stop(); return nil }

// Collect reads it to the end and returns the values it produced, in order.
// If it reports an error, Collect returns the values read so far along with
// that error.
func Collect[T any](ctx context.Context, it Iterator[T]) ([]T, error) {
	var out []T
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		} else if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
