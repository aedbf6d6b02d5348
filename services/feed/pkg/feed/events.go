// services/feed/pkg/feed/events.go
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/dispatch"
)

const eventQueueCapacity = 256

// EventType - вид уведомления о жизненном цикле клиента.
type EventType int

const (
	EventStateChanged EventType = iota
	EventDecodeFailed
	EventResync
	EventExchangeError
	EventFatal
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventDecodeFailed:
		return "decode_failed"
	case EventResync:
		return "resync"
	case EventExchangeError:
		return "exchange_error"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event - уведомление для слушателей. Заполнены только поля, относящиеся к Type.
type Event struct {
	Type         EventType
	Time         time.Time
	From, To     State        // StateChanged
	Subscription Subscription // Resync
	Err          error        // DecodeFailed, Fatal
	Raw          []byte       // DecodeFailed
	Reason       string       // ExchangeError
	SessionID    string

	stop bool
}

// Listener получает события на отдельной горутине.
// Listener не должен синхронно вызывать Client.Stop.
type Listener func(Event)

// notifier доставляет события слушателям в порядке поступления.
type notifier struct {
	q   *dispatch.Queue[Event]
	log *logger.Logger

	mu        sync.RWMutex
	listeners []Listener

	once sync.Once
	done chan struct{}
	run  atomic.Bool
}

func newNotifier(log *logger.Logger) *notifier {
	return &notifier{
		q:    dispatch.New[Event](eventQueueCapacity, dispatch.DropOldest),
		log:  log.Named("events"),
		done: make(chan struct{}),
	}
}

func (n *notifier) add(l Listener) {
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
}

func (n *notifier) start() {
	n.run.Store(true)
	go n.loop()
}

func (n *notifier) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_ = n.q.Push(e)
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		e, ok := n.q.Pop()
		if !ok || e.stop {
			return
		}
		n.mu.RLock()
		ls := append([]Listener(nil), n.listeners...)
		n.mu.RUnlock()
		for _, l := range ls {
			n.deliver(l, e)
		}
	}
}

func (n *notifier) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("listener panic recovered", zap.Any("panic", r), zap.Stringer("event", e.Type))
		}
	}()
	l(e)
}

// stop доставляет уже поставленные события и завершает горутину.
func (n *notifier) stop() {
	n.once.Do(func() {
		if n.run.Load() {
			_ = n.q.Push(Event{stop: true})
			<-n.done
		}
		n.q.Close()
	})
}
