package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// GracefulShutdown выполняет shutdown-функцию с таймаутом и логирует результат.
// Вызывать уже после отмены основного контекста: используется свежий Background.
func GracefulShutdown(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutdown: stopping " + name)
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("shutdown: error in "+name, zap.Error(err))
			return err
		}
		log.Info("shutdown: " + name + " stopped cleanly")
		return nil
	case <-ctx.Done():
		log.Warn("shutdown: timeout in "+name, zap.Duration("timeout", timeout))
		return ctx.Err()
	}
}
