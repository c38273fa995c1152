package odm

import (
	"context"
	"log/slog"
	"sync"
)

// Event is a persistence notification.
type Event uint8

// Events fired by Save and Delete.
const (
	PreSave Event = iota + 1
	AfterSave
	PreDelete
	AfterDelete
)

// String implements the fmt.Stringer interface.
func (ev Event) String() string {
	switch ev {
	case PreSave:
		return "pre_save"
	case AfterSave:
		return "after_save"
	case PreDelete:
		return "pre_delete"
	case AfterDelete:
		return "after_delete"
	}
	return "unknown"
}

// Handler handles an event. The context holds the lock of the entity, so
// the handler may read it, but must not keep the context for later use.
type Handler func(ctx context.Context, e *Entity)

type eventKey struct {
	event Event
	model string
}

// Events dispatches persistence notifications to subscribers. Handlers
// subscribed to every model run before the handlers of a specific model.
// A panicking handler is logged and does not affect the operation.
type Events struct {
	log      *slog.Logger
	mu       sync.RWMutex
	handlers map[eventKey][]Handler
}

func newEvents(log *slog.Logger) *Events {
	return &Events{log: log, handlers: make(map[eventKey][]Handler)}
}

// On subscribes h to an event of a model. An empty model subscribes to
// the event of every model.
func (evs *Events) On(ev Event, model string, h Handler) {
	evs.mu.Lock()
	defer evs.mu.Unlock()
	k := eventKey{ev, model}
	evs.handlers[k] = append(evs.handlers[k], h)
}

// Off removes every handler of an event of a model.
func (evs *Events) Off(ev Event, model string) {
	evs.mu.Lock()
	defer evs.mu.Unlock()
	delete(evs.handlers, eventKey{ev, model})
}

func (evs *Events) fire(ctx context.Context, ev Event, e *Entity) {
	evs.mu.RLock()
	hs := append([]Handler(nil), evs.handlers[eventKey{ev, ""}]...)
	hs = append(hs, evs.handlers[eventKey{ev, e.Model()}]...)
	evs.mu.RUnlock()
	for _, h := range hs {
		evs.call(ctx, ev, e, h)
	}
}

func (evs *Events) call(ctx context.Context, ev Event, e *Entity, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			evs.log.WarnContext(ctx, "event handler panicked", "event", ev.String(), "entity", e.String(), "panic", r)
		}
	}()
	h(ctx, e)
}
