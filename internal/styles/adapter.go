package styles

import (
	"encoding/json"
	"fmt"
)

// Settings is the resolved, package-typed configuration attached to a
// generation. Each style package defines its own concrete settings struct.
type Settings interface {
	PackageID() string
}

// PackageAdapter converts between stored settings blobs and resolved
// settings for one package. Resolve is tolerant by contract: missing or
// legacy-shaped fields degrade to package defaults instead of failing, so a
// context written by an older release still loads.
type PackageAdapter interface {
	PackageID() string
	Defaults() Settings
	Resolve(raw json.RawMessage) Settings
	Serialize(s Settings) (json.RawMessage, error)
}

// Registry maps package ids to their adapters.
type Registry struct {
	adapters map[string]PackageAdapter
}

func NewRegistry(adapters ...PackageAdapter) *Registry {
	r := &Registry{adapters: make(map[string]PackageAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.PackageID()] = a
	}
	return r
}

// DefaultRegistry returns the registry with every shipping style package.
func DefaultRegistry() *Registry {
	return NewRegistry(&HeadshotAdapter{}, &AvatarAdapter{})
}

func (r *Registry) Adapter(packageID string) (PackageAdapter, error) {
	a, ok := r.adapters[packageID]
	if !ok {
		return nil, fmt.Errorf("unknown style package %q", packageID)
	}
	return a, nil
}
