// Command busd runs the event-routed TCP message bus: an ingress listener,
// a control-plane listener, and (optionally) a metrics listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/busline/busd/internal/bus"
)

func main() {
	ingressAddr := flag.String("ingress-addr", "", "ingress listen address (overrides TRANSPORT_ADDRESS)")
	controlAddr := flag.String("control-addr", "", "control listen address (overrides CONTROL_ADDRESS)")
	metricsAddr := flag.String("metrics-addr", "", "metrics listen address (overrides METRICS_ADDRESS; disabled when neither is set)")
	seedFile := flag.String("seed-file", "", "path to a YAML seed file (overrides SEED_FILE)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := bus.LoadConfig(os.Environ())
	if *ingressAddr != "" {
		cfg.TransportAddress = *ingressAddr
	}
	if *controlAddr != "" {
		cfg.ControlAddress = *controlAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddress = *metricsAddr
	}
	if *seedFile != "" {
		cfg.SeedFile = *seedFile
	}

	b := bus.New(logger)

	fileSeeds, err := bus.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "busd: seed file: %v\n", err)
		os.Exit(1)
	}
	envSeeds, err := bus.EnvSeeds(os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "busd: env seeds: %v\n", err)
		os.Exit(1)
	}
	if err := b.Seed(fileSeeds); err != nil {
		fmt.Fprintf(os.Stderr, "busd: %v\n", err)
		os.Exit(1)
	}
	if err := b.Seed(envSeeds); err != nil {
		fmt.Fprintf(os.Stderr, "busd: %v\n", err)
		os.Exit(1)
	}

	if err := b.Listen(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "busd: %v\n", err)
		os.Exit(1)
	}
	logger.Info("busd listening", "ingress", b.IngressAddr(), "control", b.ControlAddr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- b.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("busd: shutting down")
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "busd: serve error: %v\n", err)
			os.Exit(1)
		}
	}

	// Wait up to 5s for Run to return. Run returns once the accept loops have
	// stopped; per-connection workers are not tracked, so connections and
	// dispatches still in flight are abandoned when main returns.
	select {
	case <-serveErr:
	case <-time.After(5 * time.Second):
		logger.Warn("busd: shutdown deadline reached, abandoning stragglers")
	}
}
