// services/feed/internal/processor/interface.go
package processor

import (
	"context"

	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

// Processor определяет контракт на обработку одного сообщения фида.
type Processor interface {
	Process(ctx context.Context, msg feed.Message) error
}

// Source отдаёт сообщения до конца потока (feed.Client удовлетворяет).
type Source interface {
	Next() (feed.Message, bool)
}
