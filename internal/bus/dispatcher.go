package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SubscriberResult is the outcome of one Downstream Sender attempt made
// during a dispatch.
type SubscriberResult struct {
	Consumer ConsumerEntry
	Err      error // nil on success
}

// Dispatcher resolves subscribers for an event and fans the payload out to
// each of them in parallel, isolating one subscriber's failure from the
// rest. It never propagates failures to the ingress producer — callers only
// use the returned results for logging and diagnostics.
type Dispatcher struct {
	registry    *Registry
	sender      *Sender
	diagnostics *Diagnostics
	logger      *slog.Logger
}

// NewDispatcher builds a Dispatcher over registry, using sender for
// downstream delivery. diagnostics may be nil to disable outcome recording.
func NewDispatcher(registry *Registry, sender *Sender, diagnostics *Diagnostics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, sender: sender, diagnostics: diagnostics, logger: logger}
}

// Dispatch resolves the subscribers of msg.EventName and sends msg.Payload
// to each, one goroutine per subscriber. It returns one SubscriberResult per
// subscriber, or nil when there are none — "success" means "the attempt was
// made", per §4.5; per-subscriber failures are logged and recorded but
// never returned to the ingress connection.
func (d *Dispatcher) Dispatch(ctx context.Context, msg IngressMessage) []SubscriberResult {
	subscribers := d.registry.SubscribersOf(msg.EventName)
	if len(subscribers) == 0 {
		d.logger.Debug("no subscribers", "event", msg.EventName)
		return nil
	}

	results := make([]SubscriberResult, len(subscribers))
	var wg sync.WaitGroup
	wg.Add(len(subscribers))
	for i, consumer := range subscribers {
		go func(i int, consumer ConsumerEntry) {
			defer wg.Done()
			results[i] = d.sendOne(ctx, msg, consumer)
		}(i, consumer)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, msg IngressMessage, consumer ConsumerEntry) SubscriberResult {
	start := time.Now()
	err := d.sender.Send(ctx, consumer.Endpoint, msg.Payload, consumer.SendTimeout)
	latency := time.Since(start)

	if err != nil {
		d.logger.Warn("dispatch failed", "event", msg.EventName, "consumer", consumer.ID, "err", err)
	}
	if d.diagnostics != nil {
		d.diagnostics.RecordDispatch(DispatchOutcome{
			Time:       start,
			Event:      msg.EventName,
			ConsumerID: consumer.ID,
			OK:         err == nil,
			ErrClass:   errClassLabel(err),
			Latency:    latency,
		})
	}
	return SubscriberResult{Consumer: consumer, Err: err}
}

func errClassLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSendTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	default:
		return "error"
	}
}
