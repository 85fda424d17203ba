package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"hkbot/internal/domain"
	"hkbot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	errs      []error
	requests  []domain.ChatRequest
	block     bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return &domain.ChatResponse{Content: "done"}, nil
	}
	return p.responses[i], nil
}

type echoTool struct {
	name  string
	calls int
	out   string
	err   error
	conv  tool.Conversation
}

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return e.name }
func (e *echoTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }
func (e *echoTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	e.calls++
	e.conv, _ = tool.ConversationFromContext(ctx)
	return e.out, e.err
}

func call(id, name string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: map[string]any{}}
}

func newRunner(p domain.Provider, tools ...domain.Tool) *Runner {
	reg := tool.NewRegistry(testLogger())
	for _, t := range tools {
		reg.Register(t)
	}
	return NewRunner(RunnerConfig{Provider: p, Tools: reg, MaxSteps: 4, Logger: testLogger()})
}

var userTurn = []domain.Turn{{Role: domain.RoleUser, Content: "the sink leaks"}}

func TestRunner_ToolThenAnswer(t *testing.T) {
	person := &echoTool{name: "get_person", out: `{"success":true,"count":1}`}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{call("c1", "get_person")}, Usage: domain.Usage{TotalTokens: 10}},
		{Content: "A plumber is on the way.", Usage: domain.Usage{TotalTokens: 5}},
	}}

	res, err := newRunner(p, person).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FinalOutput != "A plumber is on the way." {
		t.Fatalf("unexpected output %q", res.FinalOutput)
	}
	if res.Usage.TotalTokens != 15 || res.Steps != 2 {
		t.Fatalf("unexpected usage/steps: %+v", res)
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].Success {
		t.Fatalf("unexpected trace: %+v", res.ToolCalls)
	}

	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != domain.RoleTool || last.ToolCallID != "c1" || last.Content != person.out {
		t.Fatalf("tool result not fed back: %+v", last)
	}
	if second[0].Role != domain.RoleSystem || second[1].Content != "the sink leaks" {
		t.Fatalf("unexpected message layout: %+v", second[:2])
	}
}

func TestRunner_ToolErrorBecomesData(t *testing.T) {
	broken := &echoTool{name: "get_open_tickets", err: errors.New("db locked")}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{call("c1", "get_open_tickets")}},
		{Content: "Sorry, I could not check the tickets."},
	}}

	res, err := newRunner(p, broken).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if err != nil {
		t.Fatalf("tool error must not fail the run: %v", err)
	}
	if res.ToolCalls[0].Success || !strings.Contains(res.ToolCalls[0].Output, "db locked") {
		t.Fatalf("unexpected trace: %+v", res.ToolCalls[0])
	}
}

func TestRunner_DisallowedToolNotExecuted(t *testing.T) {
	create := &echoTool{name: "create_ticket", out: `{"success":true}`}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{call("c1", "create_ticket")}},
		{Content: "ok"},
	}}
	def := Definition{Name: "specialist", Tools: []string{"update_ticket"}}

	res, err := newRunner(p, create).Run(context.Background(), def, "sys", userTurn)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if create.calls != 0 {
		t.Fatal("tool outside the definition must not execute")
	}
	if res.ToolCalls[0].Success {
		t.Fatal("expected failure envelope")
	}
	if len(p.requests[0].Tools) != 0 {
		t.Fatalf("only allowed tools should be offered, got %+v", p.requests[0].Tools)
	}
}

func TestRunner_StepBudget(t *testing.T) {
	loop := &echoTool{name: "get_open_tickets", out: `{"success":true}`}
	resp := &domain.ChatResponse{ToolCalls: []domain.ToolCall{call("c", "get_open_tickets")}}
	p := &scriptedProvider{responses: []*domain.ChatResponse{resp, resp, resp, resp, resp}}

	_, err := newRunner(p, loop).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if !errors.Is(err, ErrStepBudgetExceeded) {
		t.Fatalf("expected ErrStepBudgetExceeded, got %v", err)
	}
	if len(p.requests) != 4 {
		t.Fatalf("expected 4 model calls, got %d", len(p.requests))
	}
}

func TestRunner_EmptyAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "  "}}}
	_, err := newRunner(p).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if !errors.Is(err, ErrNoFinalOutput) {
		t.Fatalf("expected ErrNoFinalOutput, got %v", err)
	}
}

func TestRunner_ModelError(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("503")}}
	_, err := newRunner(p).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if err == nil || errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected plain model error, got %v", err)
	}
}

func TestRunner_Timeout(t *testing.T) {
	p := &scriptedProvider{block: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newRunner(p).Run(ctx, Definition{Name: "requester"}, "sys", userTurn)
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}

func TestRunner_ToolCallInText(t *testing.T) {
	person := &echoTool{name: "get_person", out: `{"success":true}`}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: `{"name":"get_person","arguments":{"type":"Plumber"}}`},
		{Content: "Assistant: Found one."},
	}}

	res, err := newRunner(p, person).Run(context.Background(), Definition{Name: "requester"}, "sys", userTurn)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if person.calls != 1 {
		t.Fatal("tool call written as text should execute")
	}
	if res.FinalOutput != "Found one." {
		t.Fatalf("unexpected output %q", res.FinalOutput)
	}
}
