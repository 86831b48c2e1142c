package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stashsense/orchestrator/pkg/models"
)

// ServiceRegistry bundles registered services with their concurrency and
// readiness-probe configuration (spec §4.4). A service without a
// ServerURL is always considered ready ("local").
type ServiceRegistry struct {
	actions *ActionRegistry

	httpClient *http.Client
	now        func() time.Time

	mu       sync.RWMutex
	services map[string]*serviceEntry
}

type serviceEntry struct {
	desc models.ServiceDescriptor

	mu           sync.Mutex
	probe        models.ReadinessProbe
	readyUntil   time.Time
	backoffUntil time.Time
}

// NewServiceRegistry creates a registry backed by actions for
// action-registration forwarding and the given HTTP client for readiness
// probes (pass nil to use a new http.Client with a 5s timeout).
func NewServiceRegistry(actions *ActionRegistry, httpClient *http.Client) *ServiceRegistry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &ServiceRegistry{
		actions:    actions,
		httpClient: httpClient,
		now:        time.Now,
		services:   make(map[string]*serviceEntry),
	}
}

// Register declares a service and forwards its actions to the Action
// Registry, one action at a time.
func (r *ServiceRegistry) Register(desc models.ServiceDescriptor, actions []models.ActionDescriptor, handlers map[string]ActionHandler) {
	r.mu.Lock()
	r.services[desc.Name] = &serviceEntry{desc: desc, probe: models.ReadinessProbe{State: models.ReadinessUnknown}}
	r.mu.Unlock()

	if !hasServerURL(desc) {
		r.mu.Lock()
		r.services[desc.Name].probe = models.ReadinessProbe{State: models.ReadinessLocal}
		r.mu.Unlock()
	}

	for _, a := range actions {
		a.Service = desc.Name
		if h, ok := handlers[a.ID]; ok {
			r.actions.Register(a, h)
		}
	}
}

func hasServerURL(desc models.ServiceDescriptor) bool {
	return desc.ServerURL != ""
}

// Unregister drops a service and its actions, used on plugin removal.
func (r *ServiceRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.services, name)
	r.mu.Unlock()
	r.actions.UnregisterService(name)
}

// Get returns a service's descriptor.
func (r *ServiceRegistry) Get(name string) (models.ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	if !ok {
		return models.ServiceDescriptor{}, false
	}
	return e.desc, true
}

// Names returns every registered service name.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	return out
}

// Probe returns the current (possibly cached) readiness state for a
// service, issuing a fresh HTTP probe if the cache is stale and the
// service isn't in failure backoff. Dispatchers must treat any state
// other than ready/local as "not ready, leave queued" — never as an
// error.
func (r *ServiceRegistry) Probe(ctx context.Context, name string) models.ReadinessProbe {
	r.mu.RLock()
	e, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return models.ReadinessProbe{State: models.ReadinessUnknown, Detail: "service not registered"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !hasServerURL(e.desc) {
		return models.ReadinessProbe{State: models.ReadinessLocal}
	}

	now := r.now()
	if e.probe.State == models.ReadinessReady && now.Before(e.readyUntil) {
		return e.probe
	}
	if now.Before(e.backoffUntil) {
		return e.probe
	}

	e.probe = r.doProbe(ctx, e.desc)
	if e.probe.State == models.ReadinessReady {
		success := now
		e.probe.LastReadySuccess = &success
		e.readyUntil = now.Add(time.Duration(e.desc.ReadinessCacheSeconds) * time.Second)
	} else {
		failure := now
		e.probe.LastReadyFailure = &failure
		e.backoffUntil = now.Add(time.Duration(e.desc.FailureBackoffSeconds) * time.Second)
	}
	return e.probe
}

// IsReady reports whether dispatch should proceed for the service: only
// "ready" and "local" permit dispatch, every other state means "leave the
// task queued".
func (r *ServiceRegistry) IsReady(ctx context.Context, name string) bool {
	state := r.Probe(ctx, name).State
	return state == models.ReadinessReady || state == models.ReadinessLocal
}

func (r *ServiceRegistry) doProbe(ctx context.Context, desc models.ServiceDescriptor) models.ReadinessProbe {
	url := desc.ServerURL + desc.ReadyEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ReadinessProbe{State: models.ReadinessUnreachable, Detail: err.Error()}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return models.ReadinessProbe{State: models.ReadinessUnreachable, Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.ReadinessProbe{State: models.ReadinessReady}
	}
	return models.ReadinessProbe{
		State:  models.ReadinessWaiting,
		Detail: fmt.Sprintf("ready endpoint returned %d", resp.StatusCode),
	}
}
