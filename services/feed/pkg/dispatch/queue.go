// services/feed/pkg/dispatch/queue.go
package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultCapacity используется, если capacity <= 0.
const DefaultCapacity = 1024

var (
	// ErrClosed - очередь закрыта, Push больше не принимает элементы.
	ErrClosed = errors.New("dispatch: queue closed")
	// ErrFull - очередь заполнена и политика DropNewest отбросила элемент.
	ErrFull = errors.New("dispatch: queue full")
)

// Policy определяет поведение Push при заполненной очереди.
type Policy int

const (
	// DropOldest вытесняет самый старый элемент (по умолчанию).
	DropOldest Policy = iota
	// DropNewest отбрасывает новый элемент и возвращает ErrFull.
	DropNewest
	// Block ждёт свободного места или закрытия очереди.
	Block
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy разбирает имя политики из конфига.
// Пустая строка → DropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("dispatch: unknown overflow policy %q", s)
	}
}

// UnmarshalText позволяет декодировать Policy из YAML/ENV через mapstructure.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText - обратная операция для PrintConfig.
func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Stats - счётчики очереди.
type Stats struct {
	Len     int
	Cap     int
	Pushed  uint64
	Popped  uint64
	Dropped uint64
}

// Queue - ограниченное FIFO-кольцо, безопасное для нескольких
// producer'ов и consumer'ов.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf    []T
	head   int
	count  int
	policy Policy
	closed bool

	// OnDrop вызывается под блокировкой для каждого вытесненного/отброшенного элемента.
	onDrop func(T)

	pushed  uint64
	popped  uint64
	dropped uint64
}

// Option настраивает Queue.
type Option[T any] func(*Queue[T])

// WithDropHook регистрирует колбэк на каждый отброшенный элемент.
// Колбэк вызывается под блокировкой очереди и не должен её трогать.
func WithDropHook[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// New создаёт очередь вместимостью capacity (DefaultCapacity, если <= 0).
func New[T any](capacity int, policy Policy, opts ...Option[T]) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue[T]{
		buf:    make([]T, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push добавляет элемент согласно политике переполнения.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if q.count == len(q.buf) {
		switch q.policy {
		case DropNewest:
			q.drop(item)
			return ErrFull
		case Block:
			for q.count == len(q.buf) && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				return ErrClosed
			}
		default:
			old := q.take()
			q.drop(old)
		}
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	q.notEmpty.Signal()
	return nil
}

// Pop блокируется до появления элемента или закрытия очереди.
// false означает конец потока.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		var zero T
		return zero, false
	}
	item := q.take()
	q.popped++
	q.notFull.Signal()
	return item, true
}

// TryPop возвращает элемент без ожидания.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 || q.closed {
		var zero T
		return zero, false
	}
	item := q.take()
	q.popped++
	q.notFull.Signal()
	return item, true
}

// Close закрывает очередь: буферизованные элементы отбрасываются,
// все ожидающие Push/Pop просыпаются. Повторный вызов безопасен.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.count = 0, 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed сообщает, закрыта ли очередь.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue[T]) Cap() int { return len(q.buf) }

func (q *Queue[T]) Policy() Policy { return q.policy }

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     q.count,
		Cap:     len(q.buf),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Dropped: q.dropped,
	}
}

// take снимает голову кольца. Вызывается под блокировкой при count > 0.
func (q *Queue[T]) take() T {
	var zero T
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

func (q *Queue[T]) drop(item T) {
	q.dropped++
	if q.onDrop != nil {
		q.onDrop(item)
	}
}
