package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/matgreaves/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bus holds everything Bootstrap wires together: the Registry plus the two
// (or three, with metrics) listener runners, ready to hand to run.Group.
type Bus struct {
	Registry    *Registry
	Diagnostics *Diagnostics
	Ingress     *IngressListener
	Control     *ControlListener

	ingressListener net.Listener
	controlListener net.Listener
	metricsListener net.Listener
	logger          *slog.Logger
}

// New constructs a Bus: an empty Registry, a Diagnostics instance bound to
// it, and the ingress/control listeners over them. It does not bind any
// sockets or apply seeds — callers do that via Seed and Listen.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	diagnostics := NewDiagnostics(registry)
	sender := NewSender()
	dispatcher := NewDispatcher(registry, sender, diagnostics, logger)

	return &Bus{
		Registry:    registry,
		Diagnostics: diagnostics,
		Ingress:     NewIngressListener(dispatcher, diagnostics, logger),
		Control:     NewControlListener(registry, diagnostics, logger),
		logger:      logger,
	}
}

// Seed registers every entry against the Registry, in order — callers pass
// the seed file's entries before the environment's PRODUCER_<ID> entries so
// that an environment variable can override a file-provided consumer, per
// §4.8 step 4.
func (b *Bus) Seed(entries []SeedEntry) error {
	for _, e := range entries {
		outcome, err := b.Registry.Register(e.ID, e.Endpoint, e.SendTimeout, e.Events)
		if err != nil {
			return fmt.Errorf("seed %q: %w", e.ID, err)
		}
		b.logger.Info("seeded consumer", "id", e.ID, "endpoint", e.Endpoint, "outcome", outcome.String())
	}
	return nil
}

// Listen binds the ingress, control, and (if cfg.MetricsAddress is set)
// metrics sockets. Binding is separated from Run so that BindError (§7) can
// be reported before any goroutine starts, and so tests can bind to
// "127.0.0.1:0" and discover the assigned ports before serving.
func (b *Bus) Listen(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.TransportAddress)
	if err != nil {
		return fmt.Errorf("bind ingress %s: %w", cfg.TransportAddress, err)
	}
	b.ingressListener = ln

	cln, err := net.Listen("tcp", cfg.ControlAddress)
	if err != nil {
		return fmt.Errorf("bind control %s: %w", cfg.ControlAddress, err)
	}
	b.controlListener = cln

	if cfg.MetricsAddress != "" {
		mln, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			return fmt.Errorf("bind metrics %s: %w", cfg.MetricsAddress, err)
		}
		b.metricsListener = mln
	}
	return nil
}

// IngressAddr returns the bound ingress address, valid after Listen.
func (b *Bus) IngressAddr() net.Addr { return b.ingressListener.Addr() }

// ControlAddr returns the bound control address, valid after Listen.
func (b *Bus) ControlAddr() net.Addr { return b.controlListener.Addr() }

// Run serves the bound listeners concurrently until ctx is cancelled, using
// github.com/matgreaves/run's Group the way the teacher runs a service's
// process and lifecycle continuation side by side (server/lifecycle.go in
// the pack): any one runner returning a non-nil error tears the others
// down, and Run returns once every runner has exited.
func (b *Bus) Run(ctx context.Context) error {
	group := run.Group{
		"ingress": run.Func(func(ctx context.Context) error {
			return b.Ingress.Serve(ctx, b.ingressListener)
		}),
		"control": run.Func(func(ctx context.Context) error {
			return b.Control.Serve(ctx, b.controlListener)
		}),
	}
	if b.metricsListener != nil {
		group["metrics"] = run.Func(func(ctx context.Context) error {
			return b.serveMetrics(ctx)
		})
	}
	return group.Run(ctx)
}

// serveMetrics runs the /metrics and /varz HTTP endpoints until ctx is
// cancelled.
func (b *Bus) serveMetrics(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	b.Diagnostics.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/varz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(b.Diagnostics.VarzText()))
	})

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(b.metricsListener); err != nil && ctx.Err() == nil {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}
