package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/admitdesk/internal/llm"
)

// DefaultTimeout bounds how long Generate waits for the generator.
const DefaultTimeout = 2500 * time.Millisecond

// ErrNoApplicants is reported when Generate is called without targets.
var ErrNoApplicants = errors.New("plan: no applicants requested")

// Planner calls the content generator and validates its output.
type Planner struct {
	gen     llm.Generator
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// PlannerOpts holds parameters for creating a Planner.
type PlannerOpts struct {
	Generator llm.Generator
	Timeout   time.Duration    // defaults to DefaultTimeout
	Clock     func() time.Time // defaults to time.Now
	Logger    *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(opts PlannerOpts) (*Planner, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("plan: generator is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gen: opts.Generator, timeout: timeout, now: clock, logger: logger}, nil
}

type genReply struct {
	text string
	err  error
}

// Generate requests plans for applicants. It waits at most the configured
// timeout; a late reply is discarded once the wait has been given up.
func (p *Planner) Generate(ctx context.Context, applicants []ApplicantContext, history []HistoryTurn) Result {
	if len(applicants) == 0 {
		return Unavailable{Err: ErrNoApplicants}
	}
	now := p.now()
	prompt, err := RenderPrompt(applicants, history, now)
	if err != nil {
		return Unavailable{Err: err}
	}

	text, err := Call(ctx, p.gen, p.timeout, SystemPrompt, prompt)
	if err != nil {
		p.logger.Warn("plan generation unavailable", "applicants", len(applicants), "error", err)
		return Unavailable{Err: err}
	}

	res := Parse(text, applicants, now)
	switch r := res.(type) {
	case Unparseable:
		p.logger.Warn("plan output unparseable", "reason", r.Reason)
	case Parsed:
		if len(r.Warnings) > 0 {
			p.logger.Info("plan output repaired", "repairs", len(r.Warnings))
		}
	}
	return res
}

// Call invokes gen and waits at most timeout for the answer. The generator
// runs on a context detached from the timeout and from ctx cancellation, so
// an issued request is never cancelled; only the wait is given up.
func Call(ctx context.Context, gen llm.Generator, timeout time.Duration, system, user string) (string, error) {
	genCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ch := make(chan genReply, 1)
	go func() {
		text, err := gen.GenerateWithSystem(genCtx, system, user)
		ch <- genReply{text: text, err: err}
	}()
	select {
	case r := <-ch:
		return r.text, r.err
	case <-timer.C:
		return "", fmt.Errorf("plan: generator: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		return "", fmt.Errorf("plan: generator: %w", ctx.Err())
	}
}
