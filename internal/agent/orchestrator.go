package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hkbot/internal/domain"
	"hkbot/internal/metrics"
	"hkbot/internal/tool"
)

// State is the lifecycle position of one inbound message in the orchestrator.
type State int

const (
	Idle State = iota
	HistoryLoaded
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HistoryLoaded:
		return "history_loaded"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HistorySource yields the prior turns of a chat, oldest first.
type HistorySource interface {
	Turns(ctx context.Context, businessID, userID string, limit int) ([]domain.Turn, error)
}

// Request is one normalized message to answer.
type Request struct {
	BusinessID  string
	UserID      string
	SenderPhone string
	SenderName  string
	Input       string
	Received    time.Time
	// Agent overrides the selector when set.
	Agent string
}

// Outcome is the terminal state of a run. FinalOutput is set only when
// State is Completed.
type Outcome struct {
	State       State
	Agent       string
	FinalOutput string
	Result      *RunResult
	Err         error
	Duration    time.Duration
}

func (o Outcome) Completed() bool { return o.State == Completed }

type OrchestratorConfig struct {
	History      HistorySource
	Runner       *Runner
	Definitions  *Definitions
	Selector     *Selector
	HistoryLimit int
	Timeout      time.Duration // per run, 0 disables
	Now          func() time.Time
	Metrics      *metrics.Pipeline
	Logger       *slog.Logger
}

// Orchestrator answers one message at a time with the agent chosen for its
// sender.
type Orchestrator struct {
	history      HistorySource
	runner       *Runner
	defs         *Definitions
	selector     *Selector
	historyLimit int
	timeout      time.Duration
	now          func() time.Time
	metrics      *metrics.Pipeline
	logger       *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Definitions == nil {
		cfg.Definitions = &Definitions{byName: BuiltinDefinitions()}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		history:      cfg.History,
		runner:       cfg.Runner,
		defs:         cfg.Definitions,
		selector:     cfg.Selector,
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.Timeout,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Run is a message moving through the orchestrator states.
type Run struct {
	o     *Orchestrator
	req   Request
	def   Definition
	turns []domain.Turn
	state State
	err   error
}

func (r *Run) State() State         { return r.state }
func (r *Run) Agent() string        { return r.def.Name }
func (r *Run) Turns() []domain.Turn { return r.turns }

// Begin loads the chat history and appends req.Input as the newest turn. It
// must run before the inbound message is persisted so the input is not seen
// twice. A history failure is logged and the run continues without history.
func (o *Orchestrator) Begin(ctx context.Context, req Request) *Run {
	r := &Run{o: o, req: req, state: Idle}

	name := req.Agent
	if name == "" {
		name = o.selector.Select(req.SenderPhone)
	}
	def, ok := o.defs.Get(name)
	if !ok {
		r.state, r.err = Failed, fmt.Errorf("unknown agent %q", name)
		r.def = Definition{Name: name}
		return r
	}
	r.def = def

	var turns []domain.Turn
	if o.history != nil {
		prior, err := o.history.Turns(ctx, req.BusinessID, req.UserID, o.historyLimit)
		if err != nil {
			o.logger.Warn("history load failed, continuing without it", "user", req.UserID, "err", err)
		} else {
			turns = prior
		}
	}

	received := req.Received
	if received.IsZero() {
		received = o.now()
	}
	r.turns = append(turns, domain.Turn{Role: domain.RoleUser, Content: req.Input, Timestamp: received})
	r.state = HistoryLoaded
	return r
}

// Execute runs the agent. It never blocks beyond the configured timeout and
// always ends in Completed or Failed.
func (r *Run) Execute(ctx context.Context) Outcome {
	o := r.o
	if r.state != HistoryLoaded {
		err := r.err
		if err == nil {
			err = fmt.Errorf("run is %s, want %s", r.state, HistoryLoaded)
		}
		return Outcome{State: Failed, Agent: r.def.Name, Err: err}
	}
	r.state = Running

	start := time.Now()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	ctx = tool.WithConversation(ctx, tool.Conversation{
		BusinessID:  r.req.BusinessID,
		UserID:      r.req.UserID,
		SenderPhone: r.req.SenderPhone,
	})

	system := SystemPrompt(r.def, Meta{SenderPhone: r.req.SenderPhone, SenderName: r.req.SenderName, Now: o.now()})
	res, err := o.runner.Run(ctx, r.def, system, r.turns)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrRunTimeout) {
		err = fmt.Errorf("%w: %v", ErrRunTimeout, err)
	}

	out := Outcome{Agent: r.def.Name, Result: res, Err: err, Duration: time.Since(start)}
	if err != nil {
		r.state, out.State = Failed, Failed
		o.logger.Error("agent run failed", "agent", r.def.Name, "user", r.req.UserID, "duration", out.Duration, "err", err)
	} else {
		r.state, out.State = Completed, Completed
		out.FinalOutput = res.FinalOutput
		o.logger.Info("agent run completed", "agent", r.def.Name, "user", r.req.UserID,
			"steps", res.Steps, "tool_calls", len(res.ToolCalls), "tokens", res.Usage.TotalTokens, "duration", out.Duration)
	}
	o.metrics.AgentRun(r.def.Name, out.State.String(), out.Duration)
	return out
}

// Handle is Begin followed by Execute.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Outcome {
	return o.Begin(ctx, req).Execute(ctx)
}

// RunDirect answers input with explicit prior turns instead of stored
// history. Nothing is persisted.
func (o *Orchestrator) RunDirect(ctx context.Context, agentName, input string, prior []domain.Turn) Outcome {
	if agentName == "" {
		agentName = RequesterAgent
	}
	r := &Run{o: o, req: Request{Input: input, Agent: agentName}}
	def, ok := o.defs.Get(agentName)
	if !ok {
		return Outcome{State: Failed, Agent: agentName, Err: fmt.Errorf("unknown agent %q", agentName)}
	}
	r.def = def
	r.turns = append(append([]domain.Turn(nil), prior...), domain.Turn{Role: domain.RoleUser, Content: input, Timestamp: o.now()})
	r.state = HistoryLoaded
	return r.Execute(ctx)
}

func (o *Orchestrator) Definitions() *Definitions { return o.defs }
