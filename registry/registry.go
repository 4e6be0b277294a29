// Package registry enumerates the configured sources.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pevans/newsagg/source"
)

var (
	// ErrDuplicateName is returned when two sources share a name.
	ErrDuplicateName = errors.New("duplicate source name")
	// ErrInvalidSource is returned for a source missing its name, domain or
	// a usable URL.
	ErrInvalidSource = errors.New("invalid source")
	// ErrMissingCredentials is returned when a login source's credential
	// variables are unset.
	ErrMissingCredentials = errors.New("missing login credentials")
)

// Registry is an ordered, immutable set of adapters with unique names.
type Registry struct {
	adapters []source.Adapter
	byName   map[string]source.Adapter
}

// New validates adapters and returns a registry holding them in order.
func New(adapters ...source.Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make([]source.Adapter, 0, len(adapters)),
		byName:   make(map[string]source.Adapter, len(adapters)),
	}

	for i, a := range adapters {
		if err := validate(a); err != nil {
			return nil, fmt.Errorf("adapter %d: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(a.Name()))
		if _, exists := r.byName[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, a.Name())
		}
		r.byName[key] = a
		r.adapters = append(r.adapters, a)
	}

	return r, nil
}

func validate(a source.Adapter) error {
	if a == nil {
		return fmt.Errorf("%w: nil adapter", ErrInvalidSource)
	}
	if strings.TrimSpace(a.Name()) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSource)
	}
	if strings.TrimSpace(a.Domain()) == "" {
		return fmt.Errorf("%w: %s has no domain", ErrInvalidSource, a.Name())
	}
	u := a.SourceURL()
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s has no absolute http(s) url", ErrInvalidSource, a.Name())
	}
	return nil
}

// Adapters returns the adapters in registration order.
func (r *Registry) Adapters() []source.Adapter {
	out := make([]source.Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Len returns the number of adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}

// Lookup finds an adapter by name, ignoring case.
func (r *Registry) Lookup(name string) (source.Adapter, bool) {
	a, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Select returns a registry holding only the named adapters, in
// registration order.
func (r *Registry) Select(names ...string) (*Registry, error) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := r.byName[key]; !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		want[key] = true
	}

	var selected []source.Adapter
	for _, a := range r.adapters {
		if want[strings.ToLower(strings.TrimSpace(a.Name()))] {
			selected = append(selected, a)
		}
	}
	return New(selected...)
}
