// services/feed/internal/book/book.go
package book

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Side - сторона стакана.
type Side int

const (
	Bid Side = iota
	Ask
)

// ParseSide понимает "buy"/"sell" из l2update.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "bid":
		return Bid, nil
	case "sell", "ask":
		return Ask, nil
	default:
		return Bid, fmt.Errorf("book: unknown side %q", s)
	}
}

// Level - уровень цены.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Change - одно изменение из l2update.
type Change struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book - level2-стакан одного продукта. Безопасен для конкурентного доступа.
type Book struct {
	mu        sync.RWMutex
	productID string
	bids      map[string]Level
	asks      map[string]Level
	ready     bool
}

func New(productID string) *Book {
	return &Book{
		productID: productID,
		bids:      make(map[string]Level),
		asks:      make(map[string]Level),
	}
}

func (b *Book) ProductID() string { return b.productID }

// ApplySnapshot полностью заменяет стакан и делает его готовым.
func (b *Book) ApplySnapshot(bids, asks []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = toMap(bids)
	b.asks = toMap(asks)
	b.ready = true
}

// ApplyUpdate применяет изменения; нулевой размер удаляет уровень.
// До первого снимка изменения игнорируются; возвращает false в этом случае.
func (b *Book) ApplyUpdate(changes []Change) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return false
	}
	for _, ch := range changes {
		side := b.bids
		if ch.Side == Ask {
			side = b.asks
		}
		key := ch.Price.String()
		if ch.Size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = Level{Price: ch.Price, Size: ch.Size}
	}
	return true
}

// Invalidate очищает стакан до следующего снимка.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]Level)
	b.asks = make(map[string]Level)
	b.ready = false
}

func (b *Book) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// BestBid - наибольшая цена покупки.
func (b *Book) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return best(b.bids, func(a, c decimal.Decimal) bool { return a.GreaterThan(c) })
}

// BestAsk - наименьшая цена продажи.
func (b *Book) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return best(b.asks, func(a, c decimal.Decimal) bool { return a.LessThan(c) })
}

// Spread = BestAsk - BestBid.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Depth - верхние n уровней каждой стороны, от лучшей цены. n <= 0 → все.
type Depth struct {
	ProductID string  `json:"product_id"`
	Ready     bool    `json:"ready"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
}

func (b *Book) Depth(n int) Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Depth{
		ProductID: b.productID,
		Ready:     b.ready,
		Bids:      top(b.bids, n, true),
		Asks:      top(b.asks, n, false),
	}
}

func toMap(levels []Level) map[string]Level {
	m := make(map[string]Level, len(levels))
	for _, l := range levels {
		if l.Size.IsZero() {
			continue
		}
		m[l.Price.String()] = l
	}
	return m
}

func best(side map[string]Level, better func(a, c decimal.Decimal) bool) (Level, bool) {
	var (
		out Level
		ok  bool
	)
	for _, l := range side {
		if !ok || better(l.Price, out.Price) {
			out, ok = l, true
		}
	}
	return out, ok
}

func top(side map[string]Level, n int, desc bool) []Level {
	out := make([]Level, 0, len(side))
	for _, l := range side {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// -----------------------------------------------------------------------------
// wire parsing
// -----------------------------------------------------------------------------

// SnapshotFrame - {"type":"snapshot","product_id":..,"bids":[[p,s]],"asks":[[p,s]]}.
type SnapshotFrame struct {
	ProductID string      `json:"product_id"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
}

// UpdateFrame - {"type":"l2update","product_id":..,"changes":[[side,p,s]]}.
type UpdateFrame struct {
	ProductID string      `json:"product_id"`
	Changes   [][3]string `json:"changes"`
}

// ParseSnapshot разбирает payload снимка.
func ParseSnapshot(payload []byte) (string, []Level, []Level, error) {
	var f SnapshotFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", nil, nil, fmt.Errorf("book: snapshot: %w", err)
	}
	bids, err := parseLevels(f.Bids)
	if err != nil {
		return "", nil, nil, err
	}
	asks, err := parseLevels(f.Asks)
	if err != nil {
		return "", nil, nil, err
	}
	return f.ProductID, bids, asks, nil
}

// ParseUpdate разбирает payload l2update.
func ParseUpdate(payload []byte) (string, []Change, error) {
	var f UpdateFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", nil, fmt.Errorf("book: l2update: %w", err)
	}
	changes := make([]Change, 0, len(f.Changes))
	for _, c := range f.Changes {
		side, err := ParseSide(c[0])
		if err != nil {
			return "", nil, err
		}
		price, err := decimal.NewFromString(c[1])
		if err != nil {
			return "", nil, fmt.Errorf("book: price %q: %w", c[1], err)
		}
		size, err := decimal.NewFromString(c[2])
		if err != nil {
			return "", nil, fmt.Errorf("book: size %q: %w", c[2], err)
		}
		changes = append(changes, Change{Side: side, Price: price, Size: size})
	}
	return f.ProductID, changes, nil
}

func parseLevels(raw [][2]string) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, fmt.Errorf("book: price %q: %w", r[0], err)
		}
		size, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, fmt.Errorf("book: size %q: %w", r[1], err)
		}
		out = append(out, Level{Price: price, Size: size})
	}
	return out, nil
}
