// Package provider defines the streaming model provider contract and a
// name-keyed registry of configured providers.
package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// Provider streams completions from one upstream API.
//
// Stream returns an error only when the call could not be started. After
// that, failures arrive as an EventError. The channel is closed after a
// finish or error event, or when ctx is cancelled.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error)
}

// Registry holds the configured providers. It is built once and then only
// read.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from providers. Nil entries are skipped so
// callers can pass unconfigured providers directly.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// Has reports whether the named provider is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names lists configured providers, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers ev unless ctx is done first. Providers use it so an abandoned
// stream never blocks its producer goroutine.
func Send(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
