package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/logging"
	"github.com/ivlev/salcache/internal/metrics"
	"github.com/ivlev/salcache/internal/system"
	"github.com/ivlev/salcache/internal/tracing"
)

var (
	cfgFile     string
	verbose     bool
	metricsAddr string

	cfg            *config.Config
	metricsServer  *http.Server
	tracerProvider *sdktrace.TracerProvider
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "salcache",
	Short:         "Precompute and serve per-frame saliency maps for video corpora",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logging.Init(verbose, cfg.LogLevel)

		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr = metricsAddr
		}
		if cfg.Workers == 0 {
			cfg.Workers = system.DefaultWorkers()
		}

		system.InitResourceLimits(logging.WithComponent("system"))

		if cfg.MetricsAddr != "" {
			metricsServer = metrics.StartServer(cfg.MetricsAddr, logging.WithComponent("metrics"))
		}
		if cfg.TracingEndpoint != "" {
			tracerProvider, err = tracing.Init(cmd.Context(), cfg.TracingEndpoint)
			if err != nil {
				log.Warn().Err(err).Msg("tracing disabled")
			}
		}
		return nil
	},
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./salcache.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(clipsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(configCmd)
}
