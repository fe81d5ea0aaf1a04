package provider

import "fmt"

// Factory builds an authenticator of one mechanism family from its
// configured settings.
type Factory func(name string, settings map[string]any) (Authenticator, error)

// FactoryRegistry maps mechanism type names to factories so providers
// can be constructed from configuration.
type FactoryRegistry struct {
	factories map[string]Factory
}

// NewFactoryRegistry creates an empty factory registry. The daemon
// registers the built-in mechanism families at startup.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// RegisterFactory registers a factory for a mechanism type.
func (r *FactoryRegistry) RegisterFactory(providerType string, factory Factory) {
	r.factories[providerType] = factory
}

// Create builds a provider instance from configuration.
func (r *FactoryRegistry) Create(providerType, name string, settings map[string]any) (Authenticator, error) {
	factory, ok := r.factories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
	return factory(name, settings)
}

// SupportedTypes lists the registered mechanism types.
func (r *FactoryRegistry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
