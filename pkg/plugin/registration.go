package plugin

import (
	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/registry"
)

// RegisterFunc is the symbol every plugin module exposes — the Go
// adaptation of the spec's "import listed files; invoke register()"
// step. Modules are compiled as Go plugin (.so) objects and opened via
// the standard library's plugin package; each must export a package-level
// `var Register plugin.RegisterFunc` (or a `func Register(...)` matching
// this signature looked up by the symbol name "Register").
type RegisterFunc func(*RegistrationContext) error

// UnregisterFunc is the optional paired teardown hook.
type UnregisterFunc func(*RegistrationContext)

// RegistrationContext is handed to a plugin module's Register function so
// it can declare actions, services, and recommenders while the loader
// transparently tracks what it declared — enabling precise unregistration
// by module on plugin removal, regardless of any ID naming convention the
// plugin author chooses.
type RegistrationContext struct {
	PluginName string

	actions      *registry.ActionRegistry
	services     *registry.ServiceRegistry
	recommenders *registry.RecommenderRegistry

	registeredActionIDs      []string
	registeredServiceNames   []string
	registeredRecommenderIDs []string
}

func newRegistrationContext(pluginName string, actions *registry.ActionRegistry, services *registry.ServiceRegistry, recommenders *registry.RecommenderRegistry) *RegistrationContext {
	return &RegistrationContext{
		PluginName:   pluginName,
		actions:      actions,
		services:     services,
		recommenders: recommenders,
	}
}

// RegisterAction declares one action under this plugin.
func (r *RegistrationContext) RegisterAction(desc models.ActionDescriptor, handler registry.ActionHandler) {
	r.actions.Register(desc, handler)
	r.registeredActionIDs = append(r.registeredActionIDs, desc.ID)
}

// RegisterService declares a service (and its bundled actions) under this plugin.
func (r *RegistrationContext) RegisterService(desc models.ServiceDescriptor, actions []models.ActionDescriptor, handlers map[string]registry.ActionHandler) {
	r.services.Register(desc, actions, handlers)
	r.registeredServiceNames = append(r.registeredServiceNames, desc.Name)
	for _, a := range actions {
		r.registeredActionIDs = append(r.registeredActionIDs, a.ID)
	}
}

// RegisterRecommender declares one recommender under this plugin.
func (r *RegistrationContext) RegisterRecommender(desc models.RecommenderDescriptor, handler registry.RecommenderHandler) {
	r.recommenders.Register(desc, handler)
	r.registeredRecommenderIDs = append(r.registeredRecommenderIDs, desc.ID)
}

// teardown unregisters everything this context declared, used on plugin
// removal or reload.
func (r *RegistrationContext) teardown() {
	for _, id := range r.registeredActionIDs {
		r.actions.UnregisterID(id)
	}
	for _, name := range r.registeredServiceNames {
		r.services.Unregister(name)
	}
	for _, id := range r.registeredRecommenderIDs {
		r.recommenders.Unregister(id)
	}
}
