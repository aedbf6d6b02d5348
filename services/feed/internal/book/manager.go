// services/feed/internal/book/manager.go
package book

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

var (
	updatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "book", Name: "updates_total",
		Help: "Level2 frames applied to books",
	}, []string{"type"})
	updatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "book", Name: "updates_skipped_total",
		Help: "l2update frames ignored because the book awaits a snapshot",
	})
	invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "book", Name: "invalidations_total",
		Help: "Books invalidated by resync",
	})
)

// Manager держит стаканы по продуктам.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*Book
	log   *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	return &Manager{books: make(map[string]*Book), log: log.Named("book")}
}

// Get возвращает стакан продукта.
func (m *Manager) Get(productID string) (*Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[productID]
	return b, ok
}

func (m *Manager) getOrCreate(productID string) *Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[productID]
	if !ok {
		b = New(productID)
		m.books[productID] = b
	}
	return b
}

// Products - отсортированный список продуктов со стаканами.
func (m *Manager) Products() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.books))
	for p := range m.books {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Apply применяет level2-сообщение. Прочие сообщения игнорируются.
func (m *Manager) Apply(msg feed.Message) error {
	switch msg.Kind {
	case feed.KindSnapshot:
		product, bids, asks, err := ParseSnapshot(msg.Payload)
		if err != nil {
			return err
		}
		m.getOrCreate(product).ApplySnapshot(bids, asks)
		updatesApplied.WithLabelValues("snapshot").Inc()
		m.log.Debug("snapshot applied", zap.String("product_id", product),
			zap.Int("bids", len(bids)), zap.Int("asks", len(asks)))
	case feed.KindL2Update:
		product, changes, err := ParseUpdate(msg.Payload)
		if err != nil {
			return err
		}
		if !m.getOrCreate(product).ApplyUpdate(changes) {
			updatesSkipped.Inc()
			return nil
		}
		updatesApplied.WithLabelValues("l2update").Inc()
	}
	return nil
}

// Listener инвалидирует стакан при resync канала level2.
func (m *Manager) Listener() feed.Listener {
	return func(e feed.Event) {
		if e.Type != feed.EventResync || e.Subscription.Channel != feed.ChannelLevel2 {
			return
		}
		if b, ok := m.Get(e.Subscription.ProductID); ok {
			b.Invalidate()
			invalidations.Inc()
			m.log.Info("book invalidated until next snapshot", zap.String("product_id", e.Subscription.ProductID))
		}
	}
}
