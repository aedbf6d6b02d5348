// services/feed/internal/processor/book.go
package processor

import (
	"context"

	"github.com/YaganovValera/market-feed/services/feed/internal/book"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

type bookProcessor struct {
	books *book.Manager
}

// NewBookProcessor применяет level2-кадры к стаканам.
func NewBookProcessor(m *book.Manager) Processor {
	return &bookProcessor{books: m}
}

func (bp *bookProcessor) Process(_ context.Context, msg feed.Message) error {
	return bp.books.Apply(msg)
}
