// Package maintenance runs the periodic housekeeping jobs: expired session
// sweeps, end-of-day purge of stale pending actions, and the queue digest.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/notify"
	"github.com/zulandar/admitdesk/internal/session"
)

// Default schedules.
const (
	DefaultSessionSweepCron = "*/10 * * * *"
	DefaultActionPurgeCron  = "0 0 * * *"
	DefaultDigestCron       = "0 8 * * *"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr is a valid 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("maintenance: invalid cron %q: %w", expr, err)
	}
	return nil
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Sessions         *session.Store
	Actions          *actions.Manager
	Notifier         notify.Notifier // defaults to notify.Noop
	SessionSweepCron string
	ActionPurgeCron  string
	DigestCron       string
	DigestEnabled    bool
	Location         *time.Location   // cron timezone; defaults to time.Local
	Clock            func() time.Time // defaults to time.Now
	Logger           *slog.Logger
}

// Scheduler owns the cron runner and the job bodies.
type Scheduler struct {
	sessions *session.Store
	actions  *actions.Manager
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger

	cron *cron.Cron
	jobs []string

	mu      sync.Mutex
	started bool
}

// New validates the schedules and registers the jobs. Jobs do not run until
// Start or Run is called.
func New(opts Opts) (*Scheduler, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("maintenance: session store is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("maintenance: action manager is required")
	}
	if opts.SessionSweepCron == "" {
		opts.SessionSweepCron = DefaultSessionSweepCron
	}
	if opts.ActionPurgeCron == "" {
		opts.ActionPurgeCron = DefaultActionPurgeCron
	}
	if opts.DigestCron == "" {
		opts.DigestCron = DefaultDigestCron
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Scheduler{
		sessions: opts.Sessions,
		actions:  opts.Actions,
		notifier: opts.Notifier,
		now:      opts.Clock,
		logger:   opts.Logger,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithLocation(opts.Location)),
	}

	type job struct {
		name string
		expr string
		fn   func(context.Context) error
	}
	jobs := []job{
		{"session_sweep", opts.SessionSweepCron, func(ctx context.Context) error {
			_, err := s.SweepSessions(ctx)
			return err
		}},
		{"action_purge", opts.ActionPurgeCron, func(ctx context.Context) error {
			_, err := s.PurgeActions(ctx)
			return err
		}},
	}
	if opts.DigestEnabled {
		jobs = append(jobs, job{"digest", opts.DigestCron, func(ctx context.Context) error {
			_, err := s.Digest(ctx)
			return err
		}})
	}
	for _, j := range jobs {
		if err := ValidateCron(j.expr); err != nil {
			return nil, fmt.Errorf("maintenance: %s: %w", j.name, err)
		}
		j := j
		if _, err := s.cron.AddFunc(j.expr, func() { s.run(j.name, j.fn) }); err != nil {
			return nil, fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
		s.jobs = append(s.jobs, j.name)
	}
	return s, nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "jobs", s.jobs)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) run(name string, fn func(context.Context) error) {
	start := time.Now()
	if err := fn(context.Background()); err != nil {
		s.logger.Error("maintenance job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("maintenance job finished", "job", name, "duration", time.Since(start))
}

// SweepSessions deletes expired sessions and their messages.
func (s *Scheduler) SweepSessions(ctx context.Context) (session.SweepResult, error) {
	res, err := s.sessions.ExpireSweep(ctx)
	if err != nil {
		return res, fmt.Errorf("maintenance: sweep sessions: %w", err)
	}
	if res.Sessions > 0 {
		s.logger.Info("expired sessions swept", "sessions", res.Sessions, "messages", res.Messages)
	}
	return res, nil
}

// PurgeActions deletes pending actions left over from previous days and
// notifies staff when any were removed.
func (s *Scheduler) PurgeActions(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.actions.PurgeExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("maintenance: purge actions: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	msg := notify.Message{
		Title:    fmt.Sprintf("Purged %d stale pending action(s)", n),
		Text:     "Pending actions from previous days were removed. Re-run triage for fresh recommendations.",
		Severity: notify.SeverityWarning,
		Fields:   []notify.Field{{Name: "Run at", Value: now.UTC().Format(time.RFC3339), Short: true}},
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("purge notification failed", "error", err)
	}
	return n, nil
}

// Digest posts a summary of the open action queue. An empty queue is not posted.
func (s *Scheduler) Digest(ctx context.Context) (actions.Summary, error) {
	sum, err := s.actions.Summarize(ctx)
	if err != nil {
		return sum, fmt.Errorf("maintenance: digest: %w", err)
	}
	if sum.Pending == 0 && sum.InProgress == 0 {
		return sum, nil
	}
	severity := notify.SeverityInfo
	if sum.Overdue > 0 {
		severity = notify.SeverityWarning
	}
	msg := notify.Message{
		Title:    "Follow-up queue",
		Text:     fmt.Sprintf("%d open action(s), %d overdue.", sum.Pending+sum.InProgress, sum.Overdue),
		Severity: severity,
		Fields: []notify.Field{
			{Name: "Pending", Value: fmt.Sprint(sum.Pending), Short: true},
			{Name: "In progress", Value: fmt.Sprint(sum.InProgress), Short: true},
			{Name: "Overdue", Value: fmt.Sprint(sum.Overdue), Short: true},
		},
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		return sum, fmt.Errorf("maintenance: digest: %w", err)
	}
	return sum, nil
}
