// services/feed/pkg/feed/registry.go
package feed

import (
	"sort"
	"sync"
)

// Registry - множество активных подписок. Переживает переподключения.
type Registry struct {
	mu   sync.RWMutex
	subs map[Subscription]struct{}
}

func NewRegistry(subs ...Subscription) *Registry {
	r := &Registry{subs: make(map[Subscription]struct{}, len(subs))}
	for _, s := range subs {
		r.subs[s] = struct{}{}
	}
	return r
}

// Add возвращает true, если подписка была новой.
func (r *Registry) Add(s Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s]; ok {
		return false
	}
	r.subs[s] = struct{}{}
	return true
}

// Remove возвращает true, если подписка существовала.
func (r *Registry) Remove(s Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s]; !ok {
		return false
	}
	delete(r.subs, s)
	return true
}

func (r *Registry) Contains(s Subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[s]
	return ok
}

// Resolve находит подписки, порождающие кадры с ключом key
// (key.Channel - канал кадра, см. Message.Key).
func (r *Registry) Resolve(key Subscription) []Subscription {
	channels, ok := sourceChannels[key.Channel]
	if !ok {
		channels = []string{key.Channel}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, ch := range channels {
		s := Subscription{Channel: ch, ProductID: key.ProductID}
		if _, ok := r.subs[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// List возвращает отсортированную копию (канал, затем продукт).
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}
