// common/kafka/producer/producer.go
package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/backoff"
	commonkafka "github.com/YaganovValera/market-feed/common/kafka"
	"github.com/YaganovValera/market-feed/common/logger"
)

// -----------------------------------------------------------------------------
// Service label (заполняется через common.InitServiceName)
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается из common.InitServiceName(..) один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Prometheus-метрики
// -----------------------------------------------------------------------------

var producerMetrics = struct {
	ConnectErrors  *prometheus.CounterVec
	PublishSuccess *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	PingErrors     *prometheus.CounterVec
}{
	ConnectErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "kafka_producer", Name: "connect_errors_total",
		Help: "Kafka producer connect errors",
	}, []string{"service"}),
	PublishSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "kafka_producer", Name: "publish_success_total",
		Help: "Successful publishes",
	}, []string{"service", "topic"}),
	PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "kafka_producer", Name: "publish_errors_total",
		Help: "Publish errors",
	}, []string{"service", "topic"}),
	PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "common", Subsystem: "kafka_producer", Name: "publish_latency_seconds",
		Help:    "Publish latency (seconds), retries included",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"}),
	PingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "kafka_producer", Name: "ping_errors_total",
		Help: "Ping errors",
	}, []string{"service"}),
}

var tracer = otel.Tracer("kafka-producer")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups all tunables for a Kafka Sync-producer.
//
// Zero values are replaced with sane defaults by applyDefaults().
type Config struct {
	// Brokers - список адресов Kafka-брокеров.
	Brokers []string `mapstructure:"brokers"`

	// RequiredAcks: "all" (дефолт) | "leader" | "none".
	RequiredAcks string `mapstructure:"acks"`

	// Timeout - максимальное время ожидания ack от кластера.
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression: "none" (дефолт), "gzip", "snappy", "lz4", "zstd".
	Compression string `mapstructure:"compression"`

	// FlushFrequency - периодический сброс буфера продьюсера. Ноль → выкл.
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`

	// FlushMessages - порог сообщений для сброса. Ноль → выкл.
	FlushMessages int `mapstructure:"flush_messages"`

	// Backoff описывает стратегию ретраев подключения и отправки.
	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		// идемпотентность допустима только с WaitForAll
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	// ретраи делает backoff.Execute; идемпотентному продьюсеру sarama нужен минимум один
	sc.Producer.Retry.Max = 0
	if sc.Producer.Idempotent {
		sc.Producer.Retry.Max = 1
	}

	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}

	return sc, nil
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

type kafkaProducer struct {
	prod       sarama.SyncProducer
	client     sarama.Client // nil, если продьюсер передан снаружи
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New создаёт SyncProducer c ретраями подключения.
func New(ctx context.Context, cfg Config, log *logger.Logger) (commonkafka.Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	defer span.End()

	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(context.Context) error {
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			_ = c.Close()
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			return err
		}
		client, syncProd = c, p
		return nil
	}
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		log.Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}

	log.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return &kafkaProducer{
		prod:       otelsarama.WrapSyncProducer(sc, syncProd),
		client:     client,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// Publish отправляет сообщение в Kafka c ретраями.
func (k *kafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctxPub, span := tracer.Start(ctx, "Publish", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()
	start := time.Now()

	send := func(context.Context) error {
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(value),
		}
		if key != nil {
			msg.Key = sarama.ByteEncoder(key)
		}
		_, _, err := k.prod.SendMessage(msg)
		return err
	}

	err := backoff.Execute(ctxPub, k.backoffCfg, k.log, send)
	producerMetrics.PublishLatency.WithLabelValues(serviceLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		producerMetrics.PublishErrors.WithLabelValues(serviceLabel, topic).Inc()
		span.RecordError(err)
		k.log.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}

	producerMetrics.PublishSuccess.WithLabelValues(serviceLabel, topic).Inc()
	return nil
}

// Ping обновляет метаданные клиента, проверяя доступность кластера.
func (k *kafkaProducer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if k.client == nil {
		return nil
	}
	if err := k.client.RefreshMetadata(); err != nil {
		producerMetrics.PingErrors.WithLabelValues(serviceLabel).Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Close корректно закрывает продьюсер и клиент.
func (k *kafkaProducer) Close() error {
	if err := k.prod.Close(); err != nil {
		k.log.Error("producer close failed", zap.Error(err))
		return err
	}
	if k.client != nil && !k.client.Closed() {
		if err := k.client.Close(); err != nil {
			k.log.Error("client close failed", zap.Error(err))
			return err
		}
	}
	k.log.Info("kafka producer closed")
	return nil
}
