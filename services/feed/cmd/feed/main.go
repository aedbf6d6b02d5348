package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/configloader"
	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/internal/app"
	"github.com/YaganovValera/market-feed/services/feed/internal/config"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "feed",
		Short:         "Coinbase market-data feed client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file (empty → defaults + ENV)")

	root.AddCommand(
		newRunCmd(&configPath),
		newWatchCmd(&configPath),
		newConfigCmd(&configPath),
	)
	return root
}

// run - сервис целиком: клиент, стаканы, Kafka sink, ops HTTP.
func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the feed service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, nil)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("starting service",
				zap.String("service.name", cfg.ServiceName),
				zap.String("service.version", cfg.ServiceVersion),
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("application exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
}

// watch печатает сырые кадры подписок в stdout, по одному на строку.
func newWatchCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream raw feed messages to stdout",
		Example: "  feed watch --product BTC-USD --product ETH-USD --channel level2\n" +
			"  feed watch --config '' --ws-url wss://ws-feed.exchange.coinbase.com --channel ticker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return watch(ctx, cfg, log, cmd)
		},
	}
	f := cmd.Flags()
	f.StringSlice("product", nil, "product id (repeatable or comma separated)")
	f.StringSlice("channel", nil, "channel name (repeatable or comma separated)")
	f.String("ws-url", "", "websocket endpoint")
	f.String("log-level", "", "debug|info|warn|error")
	return cmd
}

func watch(ctx context.Context, cfg *config.Config, log *logger.Logger, cmd *cobra.Command) error {
	client, err := feed.Connect(ctx, cfg.Feed.URL, cfg.SubscriptionList(), cfg.Feed.Config, log)
	if err != nil {
		return err
	}
	defer client.Stop()
	go func() {
		<-ctx.Done()
		_ = client.Stop()
	}()

	// логи zap идут в stderr, stdout только для кадров
	out := cmd.OutOrStdout()
	for msg := range client.Messages(ctx) {
		if _, err := fmt.Fprintf(out, "%s\n", msg.Payload); err != nil {
			return err
		}
	}
	if ctx.Err() == nil {
		return app.ErrStreamEnded
	}
	return nil
}

// config печатает итоговый конфиг после всех слоёв.
func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, nil)
			if err != nil {
				return err
			}
			return configloader.PrintConfig(cmd.OutOrStdout(), cfg)
		},
	}
}
