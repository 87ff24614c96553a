// Package model maps client-facing model ids to concrete provider bindings.
package model

import (
	"errors"
)

// ErrNoModelAvailable means no provider credential is configured. It is a
// server misconfiguration, never a client error.
var ErrNoModelAvailable = errors.New("no model available")

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Entry is one catalog row.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	// Model is the provider's concrete model id.
	Model string `json:"-"`
}

// Catalog lists the supported models. The first available entry is the default.
var Catalog = []Entry{
	{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: ProviderAnthropic, Model: "claude-sonnet-4-5-20250929"},
	{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: ProviderAnthropic, Model: "claude-haiku-4-5-20251001"},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: ProviderOpenAI, Model: "gpt-4o"},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
}

// Credentials reports which provider keys are present.
type Credentials struct {
	Anthropic bool
	OpenAI    bool
}

func (c Credentials) has(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return c.Anthropic
	case ProviderOpenAI:
		return c.OpenAI
	default:
		return false
	}
}

// Binding is a resolved model.
type Binding struct {
	Entry
	// Requested is the id the client asked for, when it differs from Entry.ID.
	Requested string
}

// Fallback reports whether the requested id was replaced by the default.
func (b Binding) Fallback() bool {
	return b.Requested != "" && b.Requested != b.ID
}

// Selector resolves model ids against the credentials present at call time.
type Selector struct {
	catalog     []Entry
	credentials func() Credentials
}

// NewSelector creates a selector over the default catalog.
func NewSelector(credentials func() Credentials) *Selector {
	return NewSelectorWithCatalog(Catalog, credentials)
}

// NewSelectorWithCatalog creates a selector over a custom catalog.
func NewSelectorWithCatalog(catalog []Entry, credentials func() Credentials) *Selector {
	return &Selector{catalog: catalog, credentials: credentials}
}

// Available returns the catalog entries whose provider has a credential, in
// catalog order.
func (s *Selector) Available() []Entry {
	creds := s.credentials()
	out := make([]Entry, 0, len(s.catalog))
	for _, e := range s.catalog {
		if creds.has(e.Provider) {
			out = append(out, e)
		}
	}
	return out
}

// Resolve returns the binding for id, or the first available entry when id
// is empty or unavailable.
func (s *Selector) Resolve(id string) (Binding, error) {
	available := s.Available()
	if len(available) == 0 {
		return Binding{}, ErrNoModelAvailable
	}
	for _, e := range available {
		if e.ID == id {
			return Binding{Entry: e}, nil
		}
	}
	return Binding{Entry: available[0], Requested: id}, nil
}
