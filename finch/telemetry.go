package finch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventName enumerates the telemetry events this package emits.
type EventName string

const (
	EventQueueStart                 EventName = "queue.start"
	EventQueueStop                  EventName = "queue.stop"
	EventQueueException             EventName = "queue.exception"
	EventConnMaxIdleTimeExceeded    EventName = "conn_max_idle_time_exceeded"
	EventMaxIdleTimeExceededLegacy  EventName = "max_idle_time_exceeded" // deprecated alias, see spec.md §9
	EventPoolMaxIdleTimeExceeded    EventName = "pool_max_idle_time_exceeded"
)

// Event is one telemetry emission: the name, free-form measurements, and
// free-form metadata, matching the (name, measurements, metadata) shape
// spec.md §6 describes.
type Event struct {
	Name         EventName
	Measurements map[string]any
	Metadata     map[string]any
}

// EventHandler receives every emitted Event. Generalized from the
// teacher's HealthPoller.OnStatusChange single-callback hook
// (provider/healthpoller.go) to a subscriber list, so more than one
// observer (e.g. logging plus an OpenTelemetry bridge) can listen.
type EventHandler func(Event)

// Telemetry fans a pool's/driver's events out to zerolog (always) and to
// any registered subscribers (optionally).
type Telemetry struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers []EventHandler
}

// NewTelemetry creates a Telemetry sink bound to logger.
func NewTelemetry(logger zerolog.Logger) *Telemetry {
	return &Telemetry{logger: logger}
}

// Subscribe registers a handler invoked synchronously for every Event.
// Handlers must not block: they run on the hot path of checkout/checkin.
func (t *Telemetry) Subscribe(h EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, h)
}

func (t *Telemetry) emit(ev Event) {
	logEvent := t.logger.Info()
	if ev.Name == EventQueueException {
		logEvent = t.logger.Error()
	}
	le := logEvent.Str("event", string(ev.Name))
	for k, v := range ev.Measurements {
		le = le.Interface(k, v)
	}
	for k, v := range ev.Metadata {
		le = le.Interface(k, v)
	}
	le.Msg("finch telemetry")

	t.mu.RLock()
	subs := t.subscribers
	t.mu.RUnlock()
	for _, h := range subs {
		h(ev)
	}
}

func (t *Telemetry) queueStart(req Request, origin Origin) {
	t.emit(Event{
		Name:         EventQueueStart,
		Measurements: map[string]any{},
		Metadata:     map[string]any{"request_method": req.Method, "origin": origin.String()},
	})
}

func (t *Telemetry) queueStop(idleTime time.Duration, req Request, origin Origin) {
	t.emit(Event{
		Name:         EventQueueStop,
		Measurements: map[string]any{"idle_time_us": idleTime.Microseconds()},
		Metadata:     map[string]any{"request_method": req.Method, "origin": origin.String()},
	})
}

func (t *Telemetry) queueException(start time.Time, kind string, data any, req Request, origin Origin) {
	t.emit(Event{
		Name: EventQueueException,
		Measurements: map[string]any{
			"start_time_us": start.UnixMicro(),
		},
		Metadata: map[string]any{
			"kind":          kind,
			"data":          data,
			"request_method": req.Method,
			"origin":        origin.String(),
		},
	})
}

// connMaxIdleTimeExceeded dual-emits the current and legacy event names per
// spec.md §9's open question: preserve both for one release.
func (t *Telemetry) connMaxIdleTimeExceeded(idleTime time.Duration, origin Origin) {
	meta := map[string]any{"scheme": string(origin.Scheme), "host": origin.Host, "port": origin.Port}
	t.emit(Event{
		Name:         EventConnMaxIdleTimeExceeded,
		Measurements: map[string]any{"idle_time_us": idleTime.Microseconds()},
		Metadata:     meta,
	})
	t.emit(Event{
		Name:         EventMaxIdleTimeExceededLegacy,
		Measurements: map[string]any{"idle_time_us": idleTime.Microseconds()},
		Metadata:     mergeMeta(meta, map[string]any{"deprecated": true}),
	})
}

func (t *Telemetry) poolMaxIdleTimeExceeded(origin Origin) {
	t.emit(Event{
		Name:         EventPoolMaxIdleTimeExceeded,
		Measurements: map[string]any{},
		Metadata:     map[string]any{"scheme": string(origin.Scheme), "host": origin.Host, "port": origin.Port},
	})
}

func mergeMeta(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
