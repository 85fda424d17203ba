package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hkbot/internal/domain"
	"hkbot/internal/metrics"
	"hkbot/internal/tool"
	"hkbot/internal/tracing"
)

const (
	defaultMaxSteps    = 12
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

var (
	ErrStepBudgetExceeded = errors.New("agent: tool step budget exceeded")
	ErrRunTimeout         = errors.New("agent: run timed out")
	ErrNoFinalOutput      = errors.New("agent: no final output")
)

// ToolTrace records one tool call made during a run.
type ToolTrace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Output    string         `json:"output"`
	Success   bool           `json:"success"`
	Duration  time.Duration  `json:"duration"`
}

type RunResult struct {
	FinalOutput string       `json:"final_output"`
	Usage       domain.Usage `json:"usage"`
	ToolCalls   []ToolTrace  `json:"tool_calls"`
	Steps       int          `json:"steps"`
}

type RunnerConfig struct {
	Provider    domain.Provider
	Tools       *tool.Registry
	Model       string
	MaxTokens   int
	Temperature float64
	MaxSteps    int // model calls per run
	Metrics     *metrics.Pipeline
	Logger      *slog.Logger
}

// Runner drives one agent conversation: call the model, execute the tools it
// asks for one at a time, feed the results back, until it answers in text.
type Runner struct {
	provider    domain.Provider
	tools       *tool.Registry
	model       string
	maxTokens   int
	temperature float64
	maxSteps    int
	metrics     *metrics.Pipeline
	logger      *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		provider:    cfg.Provider,
		tools:       cfg.Tools,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxSteps:    cfg.MaxSteps,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Run executes def over turns (oldest first, the message being answered
// last). A cancelled or expired ctx ends the run with ErrRunTimeout.
func (r *Runner) Run(ctx context.Context, def Definition, system string, turns []domain.Turn) (*RunResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(attribute.String("agent", def.Name), attribute.Int("turns", len(turns)))

	var defs []domain.ToolDefinition
	if r.tools != nil {
		defs = r.tools.Definitions(def.Tools...)
	}
	messages := buildMessages(system, turns)
	res := &RunResult{}

	for step := 1; step <= r.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return res, r.fail(span, fmt.Errorf("%w: %v", ErrRunTimeout, err))
		}
		res.Steps = step

		resp, err := r.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			Model:       r.model,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %v", ErrRunTimeout, err)
			}
			return res, r.fail(span, fmt.Errorf("model call %d: %w", step, err))
		}
		res.Usage.Add(resp.Usage)
		r.logger.Debug("model step", "agent", def.Name, "step", step,
			"tool_calls", len(resp.ToolCalls), "latency_ms", resp.LatencyMs)

		if !resp.HasToolCalls() {
			if calls := toolCallsInText(resp.Content, step); len(calls) > 0 {
				r.logger.Info("tool calls recovered from reply text", "count", len(calls))
				resp.ToolCalls, resp.Content = calls, ""
			}
		}

		if !resp.HasToolCalls() {
			out := strings.TrimSpace(stripRolePrefix(strings.TrimSpace(resp.Content)))
			if out == "" {
				return res, r.fail(span, ErrNoFinalOutput)
			}
			res.FinalOutput = out
			span.SetAttributes(attribute.Int("steps", step), attribute.Int("tool_calls", len(res.ToolCalls)))
			return res, nil
		}

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for i, tc := range resp.ToolCalls {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d_%d", step, i)
			}
			tt := r.execute(ctx, def, tc)
			res.ToolCalls = append(res.ToolCalls, tt)
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    tt.Output,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	return res, r.fail(span, fmt.Errorf("%w after %d steps", ErrStepBudgetExceeded, r.maxSteps))
}

// execute runs one tool call. Every failure becomes a result envelope the
// model can read.
func (r *Runner) execute(ctx context.Context, def Definition, tc domain.ToolCall) ToolTrace {
	ctx, span := tracing.Tracer().Start(ctx, "tool."+tc.Name)
	defer span.End()

	start := time.Now()
	tt := ToolTrace{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}

	switch {
	case !def.Allows(tc.Name):
		tt.Output = tool.Fail("tool not available", fmt.Sprintf("%s is not available to this agent", tc.Name), nil).String()
	case r.tools == nil:
		tt.Output = tool.Fail("no tools configured", "", nil).String()
	default:
		if r.logger.Enabled(ctx, slog.LevelDebug) {
			if b, err := json.Marshal(tc.Arguments); err == nil {
				r.logger.Debug("tool arguments", "tool", tc.Name, "args", string(b))
			}
		}
		out, err := r.tools.Execute(ctx, tc.Name, tc.Arguments)
		if err != nil {
			r.logger.Warn("tool failed", "tool", tc.Name, "err", err)
			tracing.Fail(span, err)
			out = tool.Fail(err.Error(), fmt.Sprintf("Error executing tool %s", tc.Name), nil).String()
		}
		tt.Output = out
	}

	tt.Success = succeeded(tt.Output)
	tt.Duration = time.Since(start)
	r.metrics.ToolCall(tc.Name, tt.Success)
	span.SetAttributes(attribute.Bool("success", tt.Success))
	r.logger.Info("tool executed", "tool", tc.Name, "success", tt.Success, "duration", tt.Duration)
	return tt
}

func (r *Runner) fail(span trace.Span, err error) error {
	tracing.Fail(span, err)
	return err
}

// succeeded reads the success flag of a tool envelope. Output that is not
// an envelope counts as success.
func succeeded(out string) bool {
	var env struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil || env.Success == nil {
		return true
	}
	return *env.Success
}
