package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Separator joins a provider name and a tool name into a qualified tool name.
const Separator = "__"

// Config describes how to launch one tool provider process.
type Config struct {
	Name    string            `json:"name" mapstructure:"name" yaml:"name"`
	Command string            `json:"command" mapstructure:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env" yaml:"env,omitempty"`
}

// Validate checks that the config can be launched and that its name can be
// used as a tool namespace.
func (c Config) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("provider %q: command is required", c.Name)
	}
	return nil
}

// Environ renders Env as KEY=VALUE pairs in key order.
func (c Config) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// ValidateName reports whether name can prefix qualified tool names without
// breaking the first-separator split. A trailing underscore would make
// "a_" + "__" + "t" split as "a" and "_t".
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.Contains(name, Separator):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, Separator)
	case strings.HasSuffix(name, "_"):
		return fmt.Errorf("%w: %q ends with '_'", ErrInvalidName, name)
	}
	return nil
}

// State is the lifecycle state of a Session.
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tool is a provider-local tool descriptor.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// DefaultInputSchema is used for tools that advertise no input schema.
func DefaultInputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	}
}

// Content is one part of a tool result. Text parts carry Text; every other
// part keeps its decoded form in Raw.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Raw  any    `json:"raw,omitempty"`
}

// IsText reports whether the part is a text part.
func (c Content) IsText() bool {
	return c.Type == "text"
}

// CallResult is the normalized result of a tools/call.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}
