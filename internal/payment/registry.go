package payment

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProvider   = errors.New("unknown payment provider")
	ErrDuplicateProvider = errors.New("payment provider already registered")
)

// Registry maps provider codes to live instances. It is built once at
// startup, single-threaded, and read-only afterwards, so lookups need
// no locking. Hot re-registration is unsupported; swap in a new
// registry atomically if that is ever needed.
type Registry struct {
	order     []string
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

func (r *Registry) Register(p Provider) error {
	code := p.Code()
	if code == "" {
		return fmt.Errorf("provider %T has empty code", p)
	}
	if _, ok := r.providers[code]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, code)
	}
	r.providers[code] = p
	r.order = append(r.order, code)
	return nil
}

func (r *Registry) Resolve(code string) (Provider, error) {
	p, ok := r.providers[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	return p, nil
}

// List preserves registration order; the first entry is the default
// shown to checkout UIs.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, Info{Code: code, DisplayName: r.providers[code].DisplayName()})
	}
	return out
}

// Factory builds a provider from its per-instantiation config mapping.
type Factory func(cfg map[string]any) (Provider, error)

// factories is the name -> constructor mapping that replaces dynamic
// import of provider classes. New backends register here.
var factories = map[string]Factory{
	"dummy": func(cfg map[string]any) (Provider, error) {
		return NewDummyProvider(DummyConfigFrom(cfg)), nil
	},
}

// Build constructs the registry from the configured ordered identifier
// list. A duplicate or unknown identifier is a startup configuration
// bug; the process must refuse to start.
func Build(identifiers []string, configs map[string]map[string]any) (*Registry, error) {
	r := NewRegistry()
	for _, id := range identifiers {
		f, ok := factories[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
		p, err := f(configs[id])
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", id, err)
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
