package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zulandar/admitdesk/internal/actions"
)

func newActionsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Follow-up action queue commands",
	}
	cmd.AddCommand(newActionsListCmd(v))
	cmd.AddCommand(newActionsStartCmd(v))
	cmd.AddCommand(newActionsCompleteCmd(v))
	cmd.AddCommand(newActionsPurgeCmd(v))
	return cmd
}

func newActionsListCmd(v *viper.Viper) *cobra.Command {
	var f actions.QueueFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open actions by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			rows, err := a.actions.Queue(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions.")
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Applicant", "Type", "Priority", "Deadline", "Status", "Description"})
			for _, r := range rows {
				tw.AppendRow(table.Row{
					r.ID, r.ApplicationID, r.ActionType, r.PriorityLabel,
					r.Deadline.Format("2006-01-02 15:04"), r.Status, r.Description,
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.OwnerUserID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.ApplicationID, "applicant", "", "applicant filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (default: open actions)")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum rows")
	return cmd
}

func parseActionID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid action id %q", s)
	}
	return uint(id), nil
}

func newActionsStartCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Mark a pending action as in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActionID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			act, err := a.actions.Start(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Action %d is %s\n", act.ID, act.Status)
			return nil
		},
	}
}

func newActionsCompleteCmd(v *viper.Viper) *cobra.Command {
	var (
		notes   string
		success bool
	)
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Record the outcome of an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActionID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.actions.Complete(cmd.Context(), id, actions.Outcome{Notes: notes, Success: success})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Action %d completed (%s)\n", c.Action.ID, c.Execution.Result)
			if c.Feedback != nil {
				fmt.Fprintf(out, "\n%s\n", c.Feedback.Analysis)
				for _, s := range c.Feedback.Suggestions {
					fmt.Fprintf(out, "  - [%s] %s\n", s.Type, s.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "outcome notes")
	cmd.Flags().BoolVar(&success, "success", false, "the action achieved its goal")
	return cmd
}

func newActionsPurgeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete pending actions left over from previous days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.actions.PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d stale pending actions\n", n)
			return nil
		},
	}
}
