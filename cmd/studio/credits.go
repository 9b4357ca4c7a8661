package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mina-studio/internal/domain/model"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show the credits balance and job costs",
	Args:  cobra.NoArgs,
	RunE:  runCredits,
}

func init() {
	rootCmd.AddCommand(creditsCmd)
}

func runCredits(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.facade.Credits(ctx)
	if err != nil && !st.Known {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "BALANCE\t%g\n", st.Balance)
	fmt.Fprintf(w, "STILL\t%g\n", st.Costs.CostOf(model.ModeStill))
	fmt.Fprintf(w, "VIDEO\t%g\n", st.Costs.CostOf(model.ModeVideo))
	if st.Costs.ExpiresAt != nil {
		fmt.Fprintf(w, "EXPIRES\t%s\n", st.Costs.ExpiresAt.Format(time.RFC3339))
	}
	if err != nil {
		fmt.Fprintf(w, "STALE\t%v\n", err)
	}
	return w.Flush()
}
