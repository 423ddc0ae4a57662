package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zulandar/admitdesk/internal/applicants"
	"github.com/zulandar/admitdesk/internal/config"
	"github.com/zulandar/admitdesk/internal/db"
	"github.com/zulandar/admitdesk/internal/orchestrator"
	"golang.org/x/term"
)

type chatOpts struct {
	user    string
	filters applicants.Filters
	memory  bool
	seed    string
}

func newChatCmd(v *viper.Viper) *cobra.Command {
	var opts chatOpts
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the triage assistant in the terminal",
		Long: `Starts an interactive conversation. Each line is sent as a query and the
session is kept across turns, so answering "yes" to a proposal continues it.
Type "exit" or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, v, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.user, "user", "u", os.Getenv("USER"), "staff user id")
	cmd.Flags().StringVar(&opts.filters.Board, "board", "", "board filter")
	cmd.Flags().StringVar(&opts.filters.Stage, "stage", "", "stage filter")
	cmd.Flags().BoolVar(&opts.memory, "memory", false, "use a throwaway in-memory database")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "fixture to load before chatting (with --memory)")
	return cmd
}

func openChatApp(ctx context.Context, v *viper.Viper, opts chatOpts) (*app, error) {
	if !opts.memory {
		return openApp(v)
	}
	cfg, err := loadConfig(v, true)
	if err != nil {
		return nil, err
	}
	gdb, err := db.OpenTest()
	if err != nil {
		return nil, err
	}
	if opts.seed != "" {
		if _, err := applicants.SeedPath(ctx, gdb, opts.seed, time.Now()); err != nil {
			return nil, err
		}
	}
	logger, closeLog := config.SetupLogger(cfg.Log)
	return newApp(cfg, gdb, logger, closeLog)
}

func runChat(cmd *cobra.Command, v *viper.Viper, opts chatOpts) error {
	if opts.user == "" {
		opts.user = "anonymous"
	}
	a, err := openChatApp(cmd.Context(), v, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintf(out, "admitdesk chat as %s. Type \"exit\" to leave.\n", opts.user)
	}

	sessionID := ""
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		resp, err := a.orch.Ask(cmd.Context(), orchestrator.Request{
			UserID:    opts.user,
			Query:     line,
			Filters:   opts.filters,
			SessionID: sessionID,
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if resp.SessionID != "" {
			sessionID = resp.SessionID
		}
		fmt.Fprintln(out, resp.Answer)
		fmt.Fprintln(out)
	}
	return scanner.Err()
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
