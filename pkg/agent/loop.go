package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/registry"
)

const (
	DefaultMaxRounds   = 25
	DefaultMaxParallel = 8
)

// LoopOptions configures a Loop.
type LoopOptions struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	// MaxRounds caps model calls per query. Zero means unlimited.
	MaxRounds int
	// MaxParallel caps concurrent dispatches within one round.
	MaxParallel int
}

// Loop runs queries against a model service and the registered tools.
type Loop struct {
	model      ModelService
	tools      ToolSource
	dispatcher Dispatcher
	opts       LoopOptions
	logger     zerolog.Logger
}

// NewLoop creates a loop. An empty SystemPrompt selects DefaultSystemPrompt
// and a non-positive MaxParallel selects DefaultMaxParallel.
func NewLoop(model ModelService, tools ToolSource, dispatcher Dispatcher, opts LoopOptions, logger zerolog.Logger) *Loop {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.MaxRounds < 0 {
		opts.MaxRounds = 0
	}
	return &Loop{
		model:      model,
		tools:      tools,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// RunOnce runs a query and returns only the final answer.
func (l *Loop) RunOnce(ctx context.Context, query string) (string, error) {
	res, err := l.Run(ctx, query)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run answers one query. The returned Result is non-nil even on error and
// holds the conversation up to the failure.
func (l *Loop) Run(ctx context.Context, query string) (*Result, error) {
	convID, err := gonanoid.New()
	if err != nil {
		convID = tracing.NewQueryID()
	}
	ctx = tracing.NewQueryContext(ctx, convID)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.query",
		attribute.String("agent.backend", l.model.Backend()),
		attribute.Int("agent.max_rounds", l.opts.MaxRounds),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	started := time.Now()

	res := &Result{
		ConversationID: convID,
		Messages: []Message{
			{Role: RoleSystem, Content: l.opts.SystemPrompt},
			{Role: RoleUser, Content: query},
		},
	}

	err = l.loop(ctx, logger, res)

	outcome := "answered"
	switch {
	case errors.Is(err, ErrMaxRoundsExceeded):
		outcome = "max_rounds"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	observability.RecordQuery(outcome, time.Since(started), res.Rounds)
	span.SetAttributes(
		attribute.Int("agent.rounds", res.Rounds),
		attribute.Int("agent.tool_calls", res.ToolCalls),
		attribute.String("agent.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn().Err(err).Int("rounds", res.Rounds).Msg("Query ended without an answer")
		return res, err
	}

	logger.Info().
		Int("rounds", res.Rounds).
		Int("tool_calls", res.ToolCalls).
		Dur("duration", time.Since(started)).
		Msg("Query answered")
	return res, nil
}

func (l *Loop) loop(ctx context.Context, logger zerolog.Logger, res *Result) error {
	tools := l.tools.ModelTools()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res.Rounds++
		reply, err := l.complete(ctx, logger, res, tools)
		if err != nil {
			return err
		}

		res.Messages = append(res.Messages, Message{
			Role:      RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})

		if len(reply.ToolCalls) == 0 {
			res.Answer = reply.Content
			return nil
		}

		if l.opts.MaxRounds > 0 && res.Rounds >= l.opts.MaxRounds {
			return fmt.Errorf("%w: %d rounds", ErrMaxRoundsExceeded, l.opts.MaxRounds)
		}

		outputs := l.dispatchAll(ctx, reply.ToolCalls)
		for i, inv := range reply.ToolCalls {
			res.Messages = append(res.Messages, Message{
				Role:       RoleTool,
				Content:    outputs[i],
				ToolCallID: inv.ID,
				Name:       inv.Name,
			})
		}
		res.ToolCalls += len(reply.ToolCalls)
	}
}

func (l *Loop) complete(ctx context.Context, logger zerolog.Logger, res *Result, tools []registry.ToolSpec) (*Completion, error) {
	started := time.Now()
	reply, err := l.model.Complete(ctx, CompletionRequest{
		Model:       l.opts.Model,
		Messages:    res.Messages,
		Tools:       tools,
		ToolChoice:  ToolChoiceAuto,
		Temperature: l.opts.Temperature,
		MaxTokens:   l.opts.MaxTokens,
	})
	observability.RecordModelCall(l.model.Backend(), time.Since(started), err == nil)
	if err != nil {
		return nil, fmt.Errorf("model completion (round %d): %w", res.Rounds, err)
	}
	if reply == nil {
		reply = &Completion{}
	}

	logger.Debug().
		Int("round", res.Rounds).
		Int("tool_calls", len(reply.ToolCalls)).
		Dur("duration", time.Since(started)).
		Msg("Model replied")
	return reply, nil
}

// dispatchAll runs every invocation of one round concurrently and returns
// the outputs in invocation order.
func (l *Loop) dispatchAll(ctx context.Context, calls []ToolInvocation) []string {
	mapper := iter.Mapper[ToolInvocation, string]{MaxGoroutines: l.opts.MaxParallel}
	return mapper.Map(calls, func(inv *ToolInvocation) string {
		return l.dispatcher.Dispatch(ctx, inv.Name, inv.Arguments)
	})
}
