// services/feed/internal/processor/dispatcher.go
package processor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

var dispatcherTracer = otel.Tracer("feed/processor/dispatcher")

var (
	processed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "processor", Name: "messages_total",
		Help: "Messages handed to processors by kind",
	}, []string{"kind"})
	processErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "processor", Name: "errors_total",
		Help: "Processor errors by kind",
	}, []string{"kind"})
)

type route struct {
	proc  Processor
	kinds map[feed.Kind]struct{} // пусто → все сообщения
}

// Dispatcher маршрутизирует сообщения по Kind.
type Dispatcher struct {
	routes []route
	log    *logger.Logger
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("dispatcher")}
}

// Register добавляет обработчик для перечисленных видов (без видов - для всех).
func (d *Dispatcher) Register(proc Processor, kinds ...feed.Kind) {
	r := route{proc: proc, kinds: make(map[feed.Kind]struct{}, len(kinds))}
	for _, k := range kinds {
		r.kinds[k] = struct{}{}
	}
	d.routes = append(d.routes, r)
}

// Dispatch отдаёт одно сообщение подходящим обработчикам.
func (d *Dispatcher) Dispatch(ctx context.Context, msg feed.Message) {
	kind := msg.Kind.String()
	processed.WithLabelValues(kind).Inc()
	for _, r := range d.routes {
		if len(r.kinds) > 0 {
			if _, ok := r.kinds[msg.Kind]; !ok {
				continue
			}
		}
		if err := r.proc.Process(ctx, msg); err != nil {
			processErrors.WithLabelValues(kind).Inc()
			d.log.WithContext(ctx).Error("message processing failed",
				zap.String("kind", kind),
				zap.String("product_id", msg.ProductID),
				zap.Error(err),
			)
		}
	}
}

// Run читает src до конца потока. Остановка - через закрытие источника.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	ctx, span := dispatcherTracer.Start(ctx, "Dispatcher.Run")
	defer span.End()

	for {
		msg, ok := src.Next()
		if !ok {
			d.log.Info("source drained, dispatcher exiting")
			return nil
		}
		d.Dispatch(ctx, msg)
	}
}
