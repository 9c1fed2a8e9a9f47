// Package workqueue runs a handler on a fixed number of goroutines.
package workqueue

import (
	"context"
	"sync"

	"github.com/tweag/asset-hashserve/internal/logging"
)

// Callback receives the message, the handler result and its error.
type Callback[T, U any] func(T, U, error)

type Queue[T, U any] struct {
	requests chan request[T, U]
	workers  int
	handler  func(context.Context, T) (U, error)
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New[T, U any](handler func(context.Context, T) (U, error), workers int) *Queue[T, U] {
	return &Queue[T, U]{
		requests: make(chan request[T, U], bufferSize),
		workers:  max(workers, 1),
		handler:  handler,
	}
}

func (q *Queue[T, U]) Start(ctx context.Context) {
	q.wg.Add(q.workers)
	for range q.workers {
		go func() {
			defer q.wg.Done()
			for req := range q.requests {
				resp, err := q.handler(ctx, req.message)
				if err != nil && len(req.callbacks) == 0 {
					logging.Errorf("background processing: %v", err)
				}
				for _, callback := range req.callbacks {
					callback(req.message, resp, err)
				}
			}
		}()
	}
}

// Stop waits for all enqueued messages to be handled. Enqueue must not be called afterwards.
func (q *Queue[T, U]) Stop() {
	q.stopOnce.Do(func() {
		close(q.requests)
	})
	q.wg.Wait()
}

// Enqueue blocks while the buffer is full.
func (q *Queue[T, U]) Enqueue(message T, callbacks ...Callback[T, U]) {
	q.requests <- request[T, U]{message, callbacks}
}

// Map handles every message with a fresh queue and returns results in input order.
// The first error (in input order) is returned along with all results.
func Map[T, U any](ctx context.Context, messages []T, workers int, handler func(context.Context, T) (U, error)) ([]U, error) {
	results := make([]U, len(messages))
	errs := make([]error, len(messages))
	q := New(func(ctx context.Context, i int) (U, error) {
		return handler(ctx, messages[i])
	}, min(workers, max(len(messages), 1)))
	q.Start(ctx)
	for i := range messages {
		q.Enqueue(i, func(i int, result U, err error) {
			results[i] = result
			errs[i] = err
		})
	}
	q.Stop()
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

type request[T, U any] struct {
	message   T
	callbacks []Callback[T, U]
}

// bufferSize is the size of the request channel buffer.
// This is a tradeoff between memory usage and responsiveness.
const bufferSize = 128
