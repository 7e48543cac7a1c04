package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scrobble-orchestrator/internal/credits"
	"scrobble-orchestrator/internal/delivery"
	"scrobble-orchestrator/internal/platform/config"
	"scrobble-orchestrator/internal/sameness"
)

func newCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Show how alike two strings are",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := sameness.Compare(args[0], args[1])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "score: %.2f\n", res.Score)
			for _, s := range res.Strategies {
				fmt.Fprintf(out, "  %s: %.2f\n", s.Name, s.Score)
			}
			return nil
		},
	}
}

func newCreditsCommand() *cobra.Command {
	var track bool
	cmd := &cobra.Command{
		Use:   "credits <string>",
		Short: "Split an artist or track string into primary and secondary credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parse := credits.ParseArtistCredits
			if track {
				parse = credits.ParseTrackCredits
			}
			c, ok := parse(args[0])
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "no credits found")
				return nil
			}
			fmt.Fprintf(out, "primary: %s\n", c.Primary)
			if len(c.Secondary) > 0 {
				fmt.Fprintf(out, "secondary: %s\n", strings.Join(c.Secondary, "; "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&track, "track", false, "Parse as a track title (joiners only)")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finalized listens from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.Load()
			ledger, err := delivery.OpenSQLiteLedger(config.GetEnv("LEDGER_PATH", "data/ledger.db"))
			if err != nil {
				return err
			}
			defer ledger.Close()

			listens, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(listens) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no listens recorded")
				return nil
			}
			rows := make([][]string, 0, len(listens))
			for _, l := range listens {
				rows = append(rows, []string{
					l.FinalizedAt.Local().Format("2006-01-02 15:04"),
					strings.Join(l.Artists, ", "),
					l.Track,
					fmt.Sprintf("%.0fs", l.ListenedFor),
					l.Source,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Finalized", "Artists", "Track", "Listened", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of listens to show")
	return cmd
}
