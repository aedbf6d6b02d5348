package httpserver

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// Middleware оборачивает http.Handler.
type Middleware func(http.Handler) http.Handler

// RecoverMiddleware перехватывает паники и возвращает 500.
func RecoverMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rcv := recover(); rcv != nil {
					log.Error("http: panic recovered",
						zap.Any("panic", rcv),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// -----------------------------------------------------------------------------
// Request metrics
// -----------------------------------------------------------------------------

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"path", "method", "code"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Name:      "request_duration_seconds",
		Help:      "Request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method"})
)

// MetricsMiddleware считает запросы и их длительность.
func MetricsMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			httpRequests.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rw.status)).Inc()
			httpDuration.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// -----------------------------------------------------------------------------
// Request ID
// -----------------------------------------------------------------------------

// RequestIDHeader - заголовок, в котором клиент может передать свой ID.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware проставляет X-Request-ID и кладёт его в контекст
// как trace_id, чтобы logger.WithContext подхватил его.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), reqID)))
		})
	}
}

func withRequestID(ctx context.Context, id string) context.Context {
	return logger.ContextWithTraceID(ctx, id)
}
