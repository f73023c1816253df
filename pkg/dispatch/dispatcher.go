// Package dispatch turns one model-issued tool invocation into the text blob
// that goes back into the conversation. Dispatch never fails: every problem
// is reported to the model as text so the conversation can continue.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/provider"
	"github.com/harun/mcpagent/pkg/registry"
)

const (
	// DefaultMaxOutputChars bounds what a single tool result may add to the
	// conversation.
	DefaultMaxOutputChars = 8000
	// TruncationMarker is appended to outputs cut at the bound.
	TruncationMarker = "\n...(output truncated)..."
	// NoContent is returned for a successful call with no content parts.
	NoContent = "Tool returned no content."

	previewLimit = 200
)

// Outcome classes used for metrics and the audit trail.
const (
	OutcomeSuccess   = "success"
	OutcomeMalformed = "malformed_name"
	OutcomeUnknown   = "unknown_tool"
	OutcomeNotReady  = "not_ready"
	OutcomeError     = "error"
)

// Resolver is the registry surface the dispatcher uses.
type Resolver interface {
	Resolve(qualified string) (registry.Provider, string, error)
	CheckArguments(qualified string, args map[string]any) []string
}

// Options tunes a Dispatcher.
type Options struct {
	// MaxOutputChars is measured in characters (runes). Zero means
	// DefaultMaxOutputChars.
	MaxOutputChars int
	// CallTimeout bounds one provider call. Zero means no bound beyond ctx.
	CallTimeout time.Duration
}

// Dispatcher routes tool invocations to providers.
type Dispatcher struct {
	resolver Resolver
	opts     Options
	logger   zerolog.Logger
}

// New creates a dispatcher over resolver.
func New(resolver Resolver, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.MaxOutputChars <= 0 {
		opts.MaxOutputChars = DefaultMaxOutputChars
	}
	return &Dispatcher{resolver: resolver, opts: opts, logger: logger}
}

// Dispatch resolves name, invokes the tool with the decoded arguments and
// returns bounded text for the model.
func (d *Dispatcher) Dispatch(ctx context.Context, name, rawArgs string) string {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerDispatch, "dispatch.tool",
		attribute.String("tool.name", name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", name).Logger()
	started := time.Now()

	args := ParseArguments(rawArgs)
	text, providerName, outcome := d.dispatch(ctx, logger, name, args)
	rawLen := utf8.RuneCountInString(text)
	text = Truncate(text, d.opts.MaxOutputChars)
	elapsed := time.Since(started)

	span.SetAttributes(
		attribute.String("tool.provider", providerName),
		attribute.String("tool.outcome", outcome),
		attribute.Int("tool.output_chars", rawLen),
	)
	if outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, outcome)
	}
	observability.RecordToolDispatch(providerName, outcome, elapsed, rawLen)
	observability.RecordToolAudit(ctx, name, tracing.GetConversationID(ctx), outcome, map[string]any{
		"provider":    providerName,
		"duration_ms": elapsed.Milliseconds(),
		"chars":       rawLen,
	})

	logger.Info().
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Int("chars", rawLen).
		Str("preview", Preview(text, previewLimit)).
		Msg("Tool dispatched")

	return text
}

func (d *Dispatcher) dispatch(ctx context.Context, logger zerolog.Logger, name string, args map[string]any) (text, providerName, outcome string) {
	p, local, err := d.resolver.Resolve(name)
	switch {
	case errors.Is(err, registry.ErrMalformedName):
		return fmt.Sprintf("Tool name '%s' does not match the expected format.", name), "", OutcomeMalformed
	case err != nil:
		return fmt.Sprintf("Tool '%s' is not registered.", name), "", OutcomeUnknown
	}
	providerName = p.Name()

	if state := p.State(); state != provider.StateReady {
		return fmt.Sprintf("Provider '%s' is not ready (state: %s).", providerName, state), providerName, OutcomeNotReady
	}

	if problems := d.resolver.CheckArguments(name, args); len(problems) > 0 {
		logger.Warn().Strs("problems", problems).Msg("Arguments do not match the input schema")
	}

	logger.Debug().Interface("args", args).Msg("Calling tool")

	callCtx := ctx
	if d.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.CallTimeout)
		defer cancel()
	}

	res, err := p.CallTool(callCtx, local, args)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(provider.KindOf(err))).Msg("Tool call failed")
		return fmt.Sprintf("Error while executing tool '%s' [%s]: %v", name, provider.KindOf(err), err), providerName, OutcomeError
	}

	return Flatten(res), providerName, OutcomeSuccess
}

// ParseArguments decodes raw tool-call arguments. Anything that is not a
// JSON object yields an empty argument map.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// Flatten renders a call result as text. Text parts are joined with newlines
// in order; other parts are rendered as their JSON encoding.
func Flatten(res *provider.CallResult) string {
	if res == nil || len(res.Content) == 0 {
		return NoContent
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if c.IsText() {
			parts = append(parts, c.Text)
			continue
		}
		parts = append(parts, renderGeneric(c))
	}
	return strings.Join(parts, "\n")
}

func renderGeneric(c provider.Content) string {
	v := c.Raw
	if v == nil {
		v = c
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Truncate cuts s to limit characters and appends TruncationMarker when it
// had to cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}

// Preview collapses s onto one line and caps it at limit characters for logs.
func Preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "...(truncated)..."
		}
		n++
	}
	return s
}
