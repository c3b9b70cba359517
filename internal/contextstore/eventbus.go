package contextstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/agentcore/internal/cache"
	"github.com/forgekit/agentcore/internal/debounce"
	"github.com/forgekit/agentcore/pkg/models"
)

const eventRingCapacity = 100

// subscriberBuffer bounds each subscription's delivery queue. A subscriber
// that falls this far behind starts losing events (logged), rather than
// blocking publishers or other subscribers.
const subscriberBuffer = 256

// Filter decides whether a handler is interested in an event. A nil Filter
// matches everything.
type Filter func(models.Event) bool

// ForProject returns a Filter matching events for a single project.
func ForProject(projectID string) Filter {
	return func(e models.Event) bool { return e.ProjectID == projectID }
}

// ForType returns a Filter matching a single event type, combined with
// ForProject via And when both are needed.
func ForType(t models.EventType) Filter {
	return func(e models.Event) bool { return e.Type == t }
}

// And combines filters; a nil filter in the list is treated as match-all.
func And(filters ...Filter) Filter {
	return func(e models.Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Handler receives matched events. Each subscription has one consumer
// goroutine, so a given handler sees events in publish order (FIFO per
// subscriber); a panicking handler is recovered and logged, never
// propagated to the publisher.
type Handler func(models.Event)

// Subscription is returned by Subscribe; call Unsubscribe to stop receiving events.
type Subscription struct {
	id  string
	bus *EventBus
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.id)
}

type registeredHandler struct {
	id      string
	filter  Filter
	handler Handler
	queue   chan models.Event
	quit    chan struct{}
}

// EventBus is the Context Store's publish/subscribe hub. Dispatch is
// asynchronous and FIFO per subscriber: every subscription owns one
// buffered queue drained by one consumer goroutine, so a handler never
// sees two events out of publish order. Handlers are isolated from each
// other's panics and from the publisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]*registeredHandler
	ring     []models.Event
	logger   *slog.Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string]*registeredHandler),
		logger:   logger,
	}
}

// Subscribe registers handler for events matching filter (nil matches all)
// and starts its consumer goroutine.
func (b *EventBus) Subscribe(filter Filter, handler Handler) *Subscription {
	rh := &registeredHandler{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
		queue:   make(chan models.Event, subscriberBuffer),
		quit:    make(chan struct{}),
	}
	b.mu.Lock()
	b.handlers[rh.id] = rh
	b.mu.Unlock()

	go b.consume(rh)
	return &Subscription{id: rh.id, bus: b}
}

func (b *EventBus) remove(id string) {
	b.mu.Lock()
	rh, ok := b.handlers[id]
	if ok {
		delete(b.handlers, id)
	}
	b.mu.Unlock()
	if ok {
		close(rh.quit)
	}
}

// Publish appends event to the debug ring and enqueues it on every matching
// subscription's queue. A full queue drops the event for that subscriber
// rather than blocking the publisher.
func (b *EventBus) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.ring = append(b.ring, event)
	if len(b.ring) > eventRingCapacity {
		b.ring = b.ring[len(b.ring)-eventRingCapacity:]
	}
	snapshot := make([]*registeredHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, rh := range snapshot {
		if rh.filter != nil && !rh.filter(event) {
			continue
		}
		select {
		case rh.queue <- event:
		default:
			b.logger.Warn("event subscriber queue full, dropping event",
				"event_type", event.Type, "project_id", event.ProjectID)
		}
	}
}

// consume drains one subscription's queue in order until Unsubscribe.
func (b *EventBus) consume(rh *registeredHandler) {
	for {
		select {
		case <-rh.quit:
			return
		case event := <-rh.queue:
			b.dispatch(rh, event)
		}
	}
}

func (b *EventBus) dispatch(rh *registeredHandler, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "recover", r, "event_type", event.Type, "project_id", event.ProjectID)
		}
	}()
	rh.handler(event)
}

// Recent returns a snapshot of the last events published, for debugging.
func (b *EventBus) Recent() []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Event, len(b.ring))
	copy(out, b.ring)
	return out
}

// WaitForEvent blocks until an event matching filter is published or timeout
// elapses, returning the event and true, or the zero value and false.
func (b *EventBus) WaitForEvent(filter Filter, timeout time.Duration) (models.Event, bool) {
	ch := make(chan models.Event, 1)
	sub := b.Subscribe(filter, func(e models.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer sub.Unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-ch:
		return e, true
	case <-timer.C:
		return models.Event{}, false
	}
}

// Debounced wraps handler so it fires at most once per duration window per
// projectId, trailing: the last event in a burst is the one delivered once
// the window closes.
func Debounced(duration time.Duration, handler Handler) Handler {
	d := debounce.NewDebouncer[models.Event](
		debounce.WithDebounceDuration[models.Event](duration),
		debounce.WithBuildKey[models.Event](func(e *models.Event) string { return e.ProjectID }),
		debounce.WithOnFlush[models.Event](func(items []*models.Event) error {
			handler(*items[len(items)-1])
			return nil
		}),
	)
	return func(e models.Event) {
		ev := e
		d.Enqueue(&ev)
	}
}

// Throttled wraps handler so it fires at most once per interval per
// projectId, leading-edge: the first event in a window is delivered
// immediately and subsequent ones in the same window are dropped.
func Throttled(interval time.Duration, handler Handler) Handler {
	seen := cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: interval, MaxSize: 1024})
	return func(e models.Event) {
		if seen.Check(e.ProjectID) {
			return
		}
		handler(e)
	}
}
