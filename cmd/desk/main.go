package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// newRootCmd builds the command tree. Settings resolve as flag, then
// DESK_* environment variable, then flag default.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          "desk",
		Short:        "admitdesk: admissions action triage and conversational planning",
		Long:         "admitdesk ranks applicant follow-ups, turns them into intervention plans and tracks the resulting actions.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "admitdesk.yaml", "path to admitdesk config file")
	cmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newDBCmd(v))
	cmd.AddCommand(newTriageCmd(v))
	cmd.AddCommand(newActionsCmd(v))
	cmd.AddCommand(newSessionsCmd(v))
	cmd.AddCommand(newChatCmd(v))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "desk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
