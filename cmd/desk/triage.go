package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zulandar/admitdesk/internal/applicants"
	"github.com/zulandar/admitdesk/internal/orchestrator"
)

func newTriageCmd(v *viper.Viper) *cobra.Command {
	var (
		limit   int
		filters applicants.Filters
	)
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Rank applicants by follow-up priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			recs, err := a.orch.Triage(cmd.Context(), filters, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No applicants match.")
				return nil
			}
			renderRecommendations(cmd, recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of recommendations (default from config)")
	cmd.Flags().StringVar(&filters.Board, "board", "", "board filter")
	cmd.Flags().StringVar(&filters.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&filters.OwnerUserID, "owner", "", "owner filter")
	return cmd
}

func renderRecommendations(cmd *cobra.Command, recs []orchestrator.Recommendation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Stage", "Action", "Priority", "Confidence", "Why"})
	for i, r := range recs {
		tw.AppendRow(table.Row{
			i + 1, r.ApplicationID, r.Name, r.Stage, r.ActionType,
			fmt.Sprintf("%.2f", r.Priority), fmt.Sprintf("%.2f", r.Confidence),
			strings.Join(r.Reasons, "; "),
		})
	}
	tw.Render()
}
