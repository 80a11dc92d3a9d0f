package fanout

import (
	"context"
	"sync"
)

// Queue ограниченная очередь FIFO. При переполнении вытесняется самый старый элемент.
// Инициализируется через NewQueue
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	cap    int
	signal chan struct{}
}

// NewQueue конструктор Queue ёмкостью capacity (не меньше 1)
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make([]T, 0, capacity),
		cap:    capacity,
		signal: make(chan struct{}, 1),
	}
}

// Push добавляет элемент без блокировки. Возвращает true, если пришлось вытеснить самый старый
func (q *Queue[T]) Push(v T) (dropped bool) {
	q.mu.Lock()
	if len(q.items) >= q.cap {
		var zero T
		q.items[0] = zero
		q.items = append(q.items[:0], q.items[1:]...)
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop забирает самый старый элемент без ожидания
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = append(q.items[:0], q.items[1:]...)
	return v, true
}

// Pop ожидает и забирает самый старый элемент. Возвращает ошибку контекста при завершении
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len число элементов в очереди
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
