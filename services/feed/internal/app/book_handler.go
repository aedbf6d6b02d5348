// services/feed/internal/app/book_handler.go
package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/YaganovValera/market-feed/services/feed/internal/book"
)

const defaultDepth = 10

// newBookHandler отдаёт /book?product=BTC-USD&depth=10.
// Без product возвращает список продуктов.
func newBookHandler(books *book.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		product := q.Get("product")
		if product == "" {
			writeJSON(w, http.StatusOK, map[string][]string{"products": books.Products()})
			return
		}

		depth := defaultDepth
		if s := q.Get("depth"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid depth", http.StatusBadRequest)
				return
			}
			depth = n
		}

		b, ok := books.Get(product)
		if !ok {
			http.Error(w, "unknown product", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, b.Depth(depth))
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
