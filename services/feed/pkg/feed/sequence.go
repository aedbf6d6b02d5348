// services/feed/pkg/feed/sequence.go
package feed

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// Outcome - результат проверки порядка.
type Outcome int

const (
	OutcomeInOrder Outcome = iota
	OutcomeGap
	OutcomeDuplicate
	OutcomeNoSequencing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInOrder:
		return "in_order"
	case OutcomeGap:
		return "gap"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNoSequencing:
		return "no_sequencing"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result несёт Outcome и, для Gap, ожидаемый и полученный номера.
type Result struct {
	Outcome  Outcome
	Expected int64
	Got      int64
}

// Deliver сообщает, нужно ли отдавать сообщение потребителю.
func (r Result) Deliver() bool { return r.Outcome != OutcomeDuplicate }

// ResyncFunc вызывается один раз на каждый обнаруженный разрыв.
type ResyncFunc func(key Subscription)

// Validator ведёт курсор последнего sequence по каждому ключу.
type Validator struct {
	mu       sync.Mutex
	cursors  map[Subscription]int64
	onResync ResyncFunc
	log      *logger.Logger

	// exempt: каналы, где sequence общий для продукта и растёт скачками.
	// Для них проверяется только монотонность.
	exempt map[string]struct{}
}

func NewValidator(onResync ResyncFunc, log *logger.Logger, gapExemptChannels ...string) *Validator {
	v := &Validator{
		cursors:  make(map[Subscription]int64),
		onResync: onResync,
		log:      log.Named("sequence"),
		exempt:   make(map[string]struct{}, len(gapExemptChannels)),
	}
	for _, ch := range gapExemptChannels {
		v.exempt[ch] = struct{}{}
	}
	return v
}

// Check классифицирует сообщение и обновляет курсор.
// При разрыве курсор сдвигается на полученный номер, сообщение
// доставляется, а onResync вызывается вне блокировки.
func (v *Validator) Check(msg Message) Result {
	if !msg.Sequenced {
		return Result{Outcome: OutcomeNoSequencing}
	}
	key := msg.Key()

	v.mu.Lock()
	last, seen := v.cursors[key]
	switch {
	case !seen || msg.Sequence == last+1:
		v.cursors[key] = msg.Sequence
		v.mu.Unlock()
		return Result{Outcome: OutcomeInOrder, Got: msg.Sequence}
	case msg.Sequence <= last:
		v.mu.Unlock()
		v.log.Debug("duplicate dropped",
			zap.Stringer("key", key),
			zap.Int64("sequence", msg.Sequence),
			zap.Int64("last", last),
		)
		return Result{Outcome: OutcomeDuplicate, Expected: last + 1, Got: msg.Sequence}
	}
	v.cursors[key] = msg.Sequence
	v.mu.Unlock()

	if _, ok := v.exempt[key.Channel]; ok {
		return Result{Outcome: OutcomeInOrder, Got: msg.Sequence}
	}

	res := Result{Outcome: OutcomeGap, Expected: last + 1, Got: msg.Sequence}
	v.log.Info("sequence gap",
		zap.Stringer("key", key),
		zap.Int64("expected", res.Expected),
		zap.Int64("got", res.Got),
	)
	if v.onResync != nil {
		v.onResync(key)
	}
	return res
}

// Last возвращает курсор ключа.
func (v *Validator) Last(key Subscription) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	seq, ok := v.cursors[key]
	return seq, ok
}

// Reset забывает курсор: следующее сообщение будет InOrder.
func (v *Validator) Reset(key Subscription) {
	v.mu.Lock()
	delete(v.cursors, key)
	v.mu.Unlock()
}

func (v *Validator) ResetAll() {
	v.mu.Lock()
	v.cursors = make(map[Subscription]int64)
	v.mu.Unlock()
}
