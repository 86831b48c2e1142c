// Package registry implements the Action, Recommender, and Service
// registries (spec §4.3-4.4): context-filtered dispatch tables plus the
// Service Registry's cached readiness probing.
package registry

import (
	"context"
	"encoding/json"

	"github.com/stashsense/orchestrator/pkg/models"
)

// ActionHandler runs one action invocation. It always receives the full
// task record (which carries both the resolved context and params), which
// covers both of the spec's two handler call shapes — plain and
// controller-style — under one idiomatic Go signature.
type ActionHandler func(ctx context.Context, task *models.TaskRecord) (json.RawMessage, error)

type registeredAction struct {
	models.ActionDescriptor
	Handler ActionHandler
}

// ActionRegistry holds declared actions and resolves which are available
// for a given UI context.
type ActionRegistry struct {
	actions map[string]*registeredAction
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]*registeredAction)}
}

// Register adds or replaces an action.
func (r *ActionRegistry) Register(desc models.ActionDescriptor, handler ActionHandler) {
	r.actions[desc.ID] = &registeredAction{ActionDescriptor: desc, Handler: handler}
}

// UnregisterService removes every action declared by the given service, used
// when a plugin is removed.
func (r *ActionRegistry) UnregisterService(service string) {
	for id, a := range r.actions {
		if a.Service == service {
			delete(r.actions, id)
		}
	}
}

// UnregisterID removes a single action by id.
func (r *ActionRegistry) UnregisterID(id string) {
	delete(r.actions, id)
}

// Get returns an action descriptor and its handler by id.
func (r *ActionRegistry) Get(id string) (models.ActionDescriptor, ActionHandler, bool) {
	a, ok := r.actions[id]
	if !ok {
		return models.ActionDescriptor{}, nil, false
	}
	return a.ActionDescriptor, a.Handler, true
}

// Resolve returns every action descriptor with at least one ContextRule
// matching ctxIn.
func (r *ActionRegistry) Resolve(ctxIn models.ContextInput) []models.ActionDescriptor {
	var out []models.ActionDescriptor
	for _, a := range r.actions {
		if matchesAnyRule(a.Contexts, ctxIn) {
			out = append(out, a.ActionDescriptor)
		}
	}
	return out
}

func matchesAnyRule(rules []models.ContextRule, in models.ContextInput) bool {
	for _, rule := range rules {
		if ruleMatches(rule, in) {
			return true
		}
	}
	return false
}

func ruleMatches(rule models.ContextRule, in models.ContextInput) bool {
	if len(rule.Pages) > 0 && !contains(rule.Pages, in.Page) {
		return false
	}
	switch rule.Selection {
	case models.SelectionSingle:
		if !(in.IsDetailView || len(in.SelectedIDs) == 1) {
			return false
		}
	case models.SelectionMulti:
		if len(in.SelectedIDs) < 1 {
			return false
		}
	case models.SelectionPage:
		if len(in.VisibleIDs) < 1 {
			return false
		}
	case models.SelectionNone, "":
		// always holds
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
