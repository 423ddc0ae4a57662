package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/applicants"
	"github.com/zulandar/admitdesk/internal/config"
	"github.com/zulandar/admitdesk/internal/db"
	"github.com/zulandar/admitdesk/internal/llm"
	"github.com/zulandar/admitdesk/internal/maintenance"
	"github.com/zulandar/admitdesk/internal/notify"
	"github.com/zulandar/admitdesk/internal/notify/discord"
	"github.com/zulandar/admitdesk/internal/notify/slack"
	"github.com/zulandar/admitdesk/internal/orchestrator"
	"github.com/zulandar/admitdesk/internal/plan"
	"github.com/zulandar/admitdesk/internal/scoring"
	"github.com/zulandar/admitdesk/internal/session"
	"gorm.io/gorm"
)

// app is the set of components a command works with.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	logger   *slog.Logger
	sessions *session.Store
	actions  *actions.Manager
	orch     *orchestrator.Orchestrator
	closeLog func() error
}

// loadConfig reads the config file named by the "config" key and applies
// the log-level and port overrides. With allowMissing, a missing file
// yields the defaults.
func loadConfig(v *viper.Viper, allowMissing bool) (*config.Config, error) {
	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !allowMissing || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if port := v.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	return cfg, nil
}

// openApp loads config, connects to the configured database, migrates it
// and wires every component.
func openApp(v *viper.Viper) (*app, error) {
	cfg, err := loadConfig(v, false)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	logger, closeLog := config.SetupLogger(cfg.Log)
	return newApp(cfg, gdb, logger, closeLog)
}

func newApp(cfg *config.Config, gdb *gorm.DB, logger *slog.Logger, closeLog func() error) (*app, error) {
	gen, err := llm.New(cfg.Generator)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewStore(session.StoreOpts{
		DB:           gdb,
		TTL:          cfg.Session.TTL.Duration,
		HistoryLimit: cfg.Session.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	provider, err := applicants.NewStore(gdb, nil)
	if err != nil {
		return nil, err
	}
	planner, err := plan.NewPlanner(plan.PlannerOpts{
		Generator: gen,
		Timeout:   cfg.Generator.Timeout.Duration,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := actions.NewManager(actions.ManagerOpts{
		DB:              gdb,
		Generator:       gen,
		FeedbackTimeout: cfg.Actions.FeedbackTimeout.Duration,
		Location:        cfg.Actions.Location(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Opts{
		Sessions:     sessions,
		Provider:     provider,
		Scorer:       scoring.New(cfg.Scoring.Weights()),
		Planner:      planner,
		Cache:        plan.NewCache(cfg.Generator.PlanTTL.Duration, nil),
		Actions:      mgr,
		TriageLimit:  cfg.Scoring.TriageLimit,
		MaxTargets:   cfg.Generator.MaxTargets,
		HistoryLimit: cfg.Session.HistoryLimit,
		PromptWindow: cfg.Session.PromptWindow,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if closeLog == nil {
		closeLog = func() error { return nil }
	}
	return &app{
		cfg:      cfg,
		db:       gdb,
		logger:   logger,
		sessions: sessions,
		actions:  mgr,
		orch:     orch,
		closeLog: closeLog,
	}, nil
}

// scheduler builds the maintenance scheduler from config.
func (a *app) scheduler() (*maintenance.Scheduler, error) {
	n, err := newNotifier(a.cfg.Notify)
	if err != nil {
		return nil, err
	}
	return maintenance.New(maintenance.Opts{
		Sessions:         a.sessions,
		Actions:          a.actions,
		Notifier:         n,
		SessionSweepCron: a.cfg.Maintenance.SessionSweepCron,
		ActionPurgeCron:  a.cfg.Maintenance.ActionPurgeCron,
		DigestCron:       a.cfg.Maintenance.DigestCron,
		DigestEnabled:    a.cfg.Maintenance.DigestEnabled,
		Location:         a.cfg.Actions.Location(),
		Logger:           a.logger,
	})
}

// Close releases the database pool and the log file.
func (a *app) Close() error {
	var errs []error
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	errs = append(errs, a.closeLog())
	return errors.Join(errs...)
}

// newNotifier returns the configured staff notifier.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Platform {
	case "":
		return notify.Noop{}, nil
	case "slack":
		n, err := slack.New(slack.Opts{BotToken: cfg.Token, ChannelID: cfg.Channel})
		if err != nil {
			return nil, err
		}
		return n, nil
	case "discord":
		n, err := discord.New(discord.Opts{BotToken: cfg.Token, ChannelID: cfg.Channel})
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported notify platform %q", cfg.Platform)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(out io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
