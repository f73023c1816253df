// Package registry aggregates the tool catalogs of several providers into one
// flat namespace. Every tool is exposed as provider + "__" + tool and resolved
// back by splitting on the first separator.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/mcpagent/pkg/provider"
)

var (
	// ErrMalformedName is returned when a qualified name has no separator.
	ErrMalformedName = errors.New("malformed tool name")
	// ErrUnknownTool is returned when a well-formed name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned by Build when two tools share a qualified name.
	ErrDuplicateTool = errors.New("duplicate tool name")
)

// Provider is the part of a provider session the registry and the
// dispatcher need. *provider.Session implements it.
type Provider interface {
	Name() string
	State() provider.State
	ListTools(ctx context.Context) ([]provider.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*provider.CallResult, error)
}

// Descriptor is one registered tool.
type Descriptor struct {
	QualifiedName string         `json:"name" yaml:"name"`
	ProviderName  string         `json:"provider" yaml:"provider"`
	LocalName     string         `json:"tool" yaml:"tool"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema   map[string]any `json:"inputSchema" yaml:"inputSchema"`
}

// ToolSpec is the function description handed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type entry struct {
	desc     Descriptor
	provider Provider
	schema   *gojsonschema.Schema
}

// Registry is built once and read-only afterwards, so it is safe for
// concurrent use.
type Registry struct {
	entries []*entry
	index   map[string]*entry
}

// QualifiedName joins a provider name and a local tool name.
func QualifiedName(providerName, toolName string) string {
	return providerName + provider.Separator + toolName
}

// SplitQualifiedName splits on the first separator only, so local tool names
// may themselves contain "__".
func SplitQualifiedName(qualified string) (providerName, toolName string, err error) {
	p, t, ok := strings.Cut(qualified, provider.Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, qualified)
	}
	return p, t, nil
}

// Build lists the tools of every provider, in order, and registers them under
// their qualified names.
func Build(ctx context.Context, providers []Provider, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{index: make(map[string]*entry)}

	for _, p := range providers {
		name := p.Name()
		if err := provider.ValidateName(name); err != nil {
			return nil, err
		}

		tools, err := p.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools of %q: %w", name, err)
		}

		for _, t := range tools {
			q := QualifiedName(name, t.Name)
			if _, dup := r.index[q]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, q)
			}

			params := t.InputSchema
			if len(params) == 0 {
				params = provider.DefaultInputSchema()
			}
			e := &entry{
				desc: Descriptor{
					QualifiedName: q,
					ProviderName:  name,
					LocalName:     t.Name,
					Description:   t.Description,
					InputSchema:   params,
				},
				provider: p,
			}
			if schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params)); err == nil {
				e.schema = schema
			} else {
				logger.Warn().Err(err).Str("tool", q).Msg("Input schema does not compile; arguments will not be checked")
			}

			r.entries = append(r.entries, e)
			r.index[q] = e
		}

		logger.Info().Str("provider", name).Int("tools", len(tools)).Msg("Registered provider tools")
	}

	return r, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Descriptors returns every tool in discovery order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc
	}
	return out
}

// ModelTools projects the registry into the model's function list, keeping
// discovery order.
func (r *Registry) ModelTools() []ToolSpec {
	out := make([]ToolSpec, len(r.entries))
	for i, e := range r.entries {
		out[i] = ToolSpec{
			Name:        e.desc.QualifiedName,
			Description: e.desc.Description,
			Parameters:  e.desc.InputSchema,
		}
	}
	return out
}

// Resolve maps a qualified name back to its provider and local tool name.
func (r *Registry) Resolve(qualified string) (Provider, string, error) {
	if _, _, err := SplitQualifiedName(qualified); err != nil {
		return nil, "", err
	}
	e, ok := r.index[qualified]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownTool, qualified)
	}
	return e.provider, e.desc.LocalName, nil
}

// CheckArguments validates args against the tool's input schema. It returns
// nil when the tool is unknown or its schema could not be compiled.
func (r *Registry) CheckArguments(qualified string, args map[string]any) []string {
	e, ok := r.index[qualified]
	if !ok || e.schema == nil {
		return nil
	}
	res, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return []string{err.Error()}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		problems = append(problems, re.String())
	}
	return problems
}
