package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchOutcome is a diagnostics-only record of one Downstream Sender
// attempt. It never affects routing — it exists purely for the /varz dump
// and the Prometheus counters described in SPEC_FULL.md §6.
type DispatchOutcome struct {
	Time      time.Time
	Event     EventName
	ConsumerID ConsumerID
	OK        bool
	ErrClass  string // "" on success, one of the §7 dispatch error names otherwise
	Latency   time.Duration
}

// diagnosticsRingCapacity bounds memory use for the /varz dump; oldest
// entries are overwritten, never blocking a publisher.
const diagnosticsRingCapacity = 512

// Diagnostics is a small, lock-protected ring buffer of recent dispatch
// outcomes plus the Prometheus collectors for the metrics surface. It is
// modeled on the teacher's EventLog (server/eventlog.go in the pack) but
// deliberately smaller: a fixed-size ring rather than an unbounded,
// subscribable log, since nothing here needs replay or streaming — just a
// bounded window for ad-hoc inspection that can never itself become a
// source of backpressure on dispatch.
type Diagnostics struct {
	mu   sync.Mutex
	ring [diagnosticsRingCapacity]DispatchOutcome
	next int
	size int

	dispatchAttempts   *prometheus.CounterVec
	registryConsumers  prometheus.GaugeFunc
	registrySubs       prometheus.GaugeFunc
	ingressConnections prometheus.Counter
	controlConnections prometheus.Counter
}

// NewDiagnostics creates a Diagnostics bound to registry's stats for the
// gauge collectors.
func NewDiagnostics(registry *Registry) *Diagnostics {
	d := &Diagnostics{
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busd_dispatch_attempts_total",
			Help: "Downstream send attempts, labeled by event and result.",
		}, []string{"event", "result"}),
		ingressConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busd_ingress_connections_total",
			Help: "Ingress TCP connections accepted.",
		}),
		controlConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busd_control_connections_total",
			Help: "Control TCP connections accepted.",
		}),
	}
	d.registryConsumers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "busd_registry_consumers",
		Help: "Number of registered consumers.",
	}, func() float64 {
		n, _ := registry.Stats()
		return float64(n)
	})
	d.registrySubs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "busd_registry_subscriptions",
		Help: "Number of (event, consumer) subscription pairs.",
	}, func() float64 {
		_, n := registry.Stats()
		return float64(n)
	})
	return d
}

// Register adds every collector to reg (typically prometheus.NewRegistry()
// or prometheus.DefaultRegisterer).
func (d *Diagnostics) Register(reg prometheus.Registerer) {
	reg.MustRegister(d.dispatchAttempts, d.registryConsumers, d.registrySubs, d.ingressConnections, d.controlConnections)
}

// RecordDispatch appends outcome to the ring and increments the matching
// Prometheus counter. Safe to call from many goroutines concurrently.
func (d *Diagnostics) RecordDispatch(outcome DispatchOutcome) {
	result := "ok"
	if !outcome.OK {
		result = outcome.ErrClass
	}
	d.dispatchAttempts.WithLabelValues(string(outcome.Event), result).Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring[d.next] = outcome
	d.next = (d.next + 1) % diagnosticsRingCapacity
	if d.size < diagnosticsRingCapacity {
		d.size++
	}
}

// IngressConnectionOpened increments the ingress connection counter.
func (d *Diagnostics) IngressConnectionOpened() { d.ingressConnections.Inc() }

// ControlConnectionOpened increments the control connection counter.
func (d *Diagnostics) ControlConnectionOpened() { d.controlConnections.Inc() }

// Recent returns the ring's contents, oldest first.
func (d *Diagnostics) Recent() []DispatchOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DispatchOutcome, d.size)
	start := (d.next - d.size + diagnosticsRingCapacity) % diagnosticsRingCapacity
	for i := 0; i < d.size; i++ {
		out[i] = d.ring[(start+i)%diagnosticsRingCapacity]
	}
	return out
}

// VarzText renders Recent() as a plain-text dump, newest last, one line per
// outcome — mirroring the teacher's EventLog snapshot style without its
// subscribe/replay machinery.
func (d *Diagnostics) VarzText() string {
	entries := d.Recent()
	out := make([]byte, 0, 80*len(entries))
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = e.ErrClass
		}
		out = append(out, fmt.Sprintf("%s event=%s consumer=%s result=%s latency=%s\n",
			e.Time.Format(time.RFC3339Nano), e.Event, e.ConsumerID, status, e.Latency)...)
	}
	return string(out)
}
