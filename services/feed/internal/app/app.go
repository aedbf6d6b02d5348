// services/feed/internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/market-feed/common"
	"github.com/YaganovValera/market-feed/common/httpserver"
	"github.com/YaganovValera/market-feed/common/kafka"
	producer "github.com/YaganovValera/market-feed/common/kafka/producer"
	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/common/shutdown"
	"github.com/YaganovValera/market-feed/common/telemetry"
	"github.com/YaganovValera/market-feed/services/feed/internal/book"
	"github.com/YaganovValera/market-feed/services/feed/internal/config"
	"github.com/YaganovValera/market-feed/services/feed/internal/processor"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

// ErrStreamEnded - клиент остановился сам (фатальная ошибка переподключения).
var ErrStreamEnded = errors.New("feed stream ended")

// Run поднимает клиент фида, диспетчер и ops HTTP-сервер и блокируется
// до отмены ctx.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)

	// Трассировка
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		_ = shutdown.GracefulShutdown("telemetry", cfg.ShutdownTimeout, shutdownTracer, log)
	}()

	// Kafka (опционально)
	var prod kafka.Producer
	if cfg.Kafka.Enabled {
		prod, err = producer.New(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer func() {
			_ = shutdown.GracefulShutdown("kafka-producer", cfg.ShutdownTimeout,
				func(context.Context) error { return prod.Close() }, log)
		}()
	}

	books := book.NewManager(log)

	client, err := feed.New(cfg.Feed.URL, cfg.Feed.Config, log)
	if err != nil {
		return fmt.Errorf("feed client init: %w", err)
	}
	client.AddListener(books.Listener())
	client.AddListener(eventLogger(log))
	if err := client.Subscribe(cfg.SubscriptionList()...); err != nil {
		return fmt.Errorf("feed subscribe: %w", err)
	}

	dispatcher := processor.NewDispatcher(log)
	dispatcher.Register(processor.NewBookProcessor(books), feed.KindSnapshot, feed.KindL2Update)
	dispatcher.Register(processor.NewLogProcessor(log), feed.KindTicker, feed.KindError, feed.KindStatus)
	if prod != nil {
		dispatcher.Register(processor.NewPublishProcessor(prod, cfg.Kafka.Topic, log))
	}

	httpSrv, err := httpserver.New(
		cfg.HTTP,
		readiness(ctx, client, prod),
		log,
		map[string]http.Handler{"/book": newBookHandler(books)},
		httpserver.RecoverMiddleware(log),
		httpserver.RequestIDMiddleware(),
		httpserver.MetricsMiddleware(),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("feed client start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error {
		if err := dispatcher.Run(gctx, client); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return ErrStreamEnded
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown.GracefulShutdown("feed-client", cfg.ShutdownTimeout,
			func(context.Context) error { return client.Stop() }, log)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.WithContext(ctx).Info("feed service stopped")
	return nil
}

// readiness: готов, когда клиент подписан и (если включена) Kafka доступна.
func readiness(ctx context.Context, c *feed.Client, prod kafka.Producer) httpserver.ReadyChecker {
	return func() error {
		if st := c.State(); st != feed.StateSubscribed {
			return fmt.Errorf("feed state %s", st)
		}
		if prod != nil {
			return prod.Ping(ctx)
		}
		return nil
	}
}

func eventLogger(log *logger.Logger) feed.Listener {
	log = log.Named("events")
	return func(e feed.Event) {
		switch e.Type {
		case feed.EventFatal:
			log.Error("feed fatal", zap.Error(e.Err))
		case feed.EventResync:
			log.Info("feed resync", zap.Stringer("key", e.Subscription))
		case feed.EventExchangeError:
			log.Warn("exchange error", zap.String("reason", e.Reason))
		}
	}
}
