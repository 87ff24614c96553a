// Package tools defines the tutoring tools the model may call during a chat
// turn and the registry that exposes them to providers and the MCP server.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// ErrInvalidInput is returned when tool arguments fail to decode or validate.
var ErrInvalidInput = errors.New("invalid tool input")

// ErrUnknownTool is returned by Registry.Execute for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a single callable capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Typed adapts a strongly typed function to the Tool interface. Inputs are
// decoded from JSON and checked against their `validate` tags before run is
// called.
type Typed[In, Out any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	run         func(context.Context, In) (Out, error)
}

// NewTyped derives the input schema from In and applies refine, which may
// tighten it with constraints struct tags cannot express.
func NewTyped[In, Out any](name, description string, run func(context.Context, In) (Out, error), refine ...Refinement) (*Typed[In, Out], error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: derive schema: %w", name, err)
	}
	for _, r := range refine {
		if err := r(schema); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
	}
	return &Typed[In, Out]{
		name:        name,
		description: description,
		schema:      schema,
		run:         run,
	}, nil
}

func (t *Typed[In, Out]) Name() string               { return t.name }
func (t *Typed[In, Out]) Description() string        { return t.description }
func (t *Typed[In, Out]) Schema() *jsonschema.Schema { return t.schema }

// Run validates an already decoded input and invokes the tool.
func (t *Typed[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	if err := validate.Struct(in); err != nil {
		var zero Out
		return zero, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	return t.run(ctx, in)
}

func (t *Typed[In, Out]) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var in In
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t.Run(ctx, in)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
}

// Registry is an ordered, read-only set of tools.
type Registry struct {
	order  []Tool
	byName map[string]Tool
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		r.byName[t.Name()] = t
		r.order = append(r.order, t)
	}
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byName[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions describes every tool for a provider request.
func (r *Registry) Definitions() []domain.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Execute runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, input)
}

type principalKey struct{}

// WithPrincipal records the authenticated principal for tools that persist
// per-user data.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
