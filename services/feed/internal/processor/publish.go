// services/feed/internal/processor/publish.go
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/kafka"
	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

var publishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "feed", Subsystem: "pipeline", Name: "publish_latency_seconds",
	Help:    "Latency from receiving a frame to publishing it to Kafka (seconds)",
	Buckets: prometheus.DefBuckets,
})

// envelope - формат записи в Kafka.
type envelope struct {
	Type       string          `json:"type"`
	Channel    string          `json:"channel,omitempty"`
	ProductID  string          `json:"product_id,omitempty"`
	Sequence   *int64          `json:"sequence,omitempty"`
	ExchangeTS *time.Time      `json:"exchange_time,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

type publishProcessor struct {
	producer kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewPublishProcessor публикует сообщения в topic, ключ - product_id.
func NewPublishProcessor(p kafka.Producer, topic string, log *logger.Logger) Processor {
	return &publishProcessor{producer: p, topic: topic, log: log.Named("publish")}
}

func (pp *publishProcessor) Process(ctx context.Context, msg feed.Message) error {
	ctx, span := otel.Tracer("feed/processor/publish").Start(ctx, "Process")
	defer span.End()
	span.SetAttributes(attribute.String("kind", msg.Kind.String()), attribute.String("product_id", msg.ProductID))

	env := envelope{
		Type:       msg.Type,
		Channel:    msg.Channel,
		ProductID:  msg.ProductID,
		ReceivedAt: msg.ReceivedAt,
		Payload:    msg.Payload,
	}
	if msg.Sequenced {
		seq := msg.Sequence
		env.Sequence = &seq
	}
	if !msg.Time.IsZero() {
		ts := msg.Time
		env.ExchangeTS = &ts
	}

	value, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal envelope: %w", err)
	}

	var key []byte
	if msg.ProductID != "" {
		key = []byte(msg.ProductID)
	}
	if err := pp.producer.Publish(ctx, pp.topic, key, value); err != nil {
		span.RecordError(err)
		pp.log.WithContext(ctx).Warn("publish failed",
			zap.String("topic", pp.topic),
			zap.String("product_id", msg.ProductID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	if !msg.ReceivedAt.IsZero() {
		publishLatency.Observe(time.Since(msg.ReceivedAt).Seconds())
	}
	return nil
}
