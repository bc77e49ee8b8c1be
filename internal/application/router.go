package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// Event is a verified delivery together with the repository it targets.
// Repo is nil when the repository is not tracked.
type Event struct {
	Delivery
	RepoServiceID string
	Repo          *model.Repository
}

// EventHandler normalizes one event into state changes and task dispatches.
type EventHandler func(ctx context.Context, ev *Event) (Result, error)

// Route binds an event to its handler. AllowUnresolved marks events that may
// create the repository they target.
type Route struct {
	Handle          EventHandler
	AllowUnresolved bool
}

// RouteKey identifies a route. Event is the provider's event-type header.
type RouteKey struct {
	Service model.Service
	Event   string
}

// Normalizer translates one provider's payloads.
type Normalizer interface {
	Service() model.Service
	// Routes returns the handlers keyed by event type.
	Routes() map[string]Route
	// RepoServiceID extracts the provider-native id of the target repository.
	// It returns "" when the payload names no repository.
	RepoServiceID(event string, body []byte) (string, error)
}

// Router dispatches events through a table fixed at construction.
type Router struct {
	routes      map[RouteKey]Route
	normalizers map[model.Service]Normalizer
}

// NewRouter builds the route table. It fails when two normalizers claim the
// same service or the same (service, event) pair.
func NewRouter(normalizers ...Normalizer) (*Router, error) {
	r := &Router{
		routes:      make(map[RouteKey]Route),
		normalizers: make(map[model.Service]Normalizer, len(normalizers)),
	}

	for _, n := range normalizers {
		svc := n.Service()
		if _, dup := r.normalizers[svc]; dup {
			return nil, fmt.Errorf("duplicate normalizer for %s", svc)
		}
		r.normalizers[svc] = n

		for event, route := range n.Routes() {
			key := RouteKey{Service: svc, Event: event}
			if _, dup := r.routes[key]; dup {
				return nil, fmt.Errorf("duplicate route %s/%s", svc, event)
			}
			if route.Handle == nil {
				return nil, fmt.Errorf("route %s/%s has no handler", svc, event)
			}
			r.routes[key] = route
		}
	}

	return r, nil
}

// Normalizer returns the normalizer registered for service.
func (r *Router) Normalizer(service model.Service) (Normalizer, bool) {
	n, ok := r.normalizers[service]
	return n, ok
}

// Lookup returns the route for (service, event).
func (r *Router) Lookup(service model.Service, event string) (Route, bool) {
	route, ok := r.routes[RouteKey{Service: service, Event: event}]
	return route, ok
}

// Dispatch runs the handler for ev. Unknown events yield ErrUnknownEvent and
// events for untracked repositories yield *UnresolvedRepositoryError unless
// the route may create the repository.
func (r *Router) Dispatch(ctx context.Context, ev *Event) (Result, error) {
	route, ok := r.Lookup(ev.Service, ev.Event)
	if !ok {
		return Result{}, fmt.Errorf("%s/%q: %w", ev.Service, ev.Event, ErrUnknownEvent)
	}

	if ev.Repo == nil && !route.AllowUnresolved {
		return Result{}, &UnresolvedRepositoryError{Service: ev.Service, ServiceID: ev.RepoServiceID}
	}

	return route.Handle(ctx, ev)
}
