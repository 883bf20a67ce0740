package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatrelay/internal/control"
)

var (
	abandonedRoutes  []string
	abandonedResolve string
)

var abandonedCmd = &cobra.Command{
	Use:   "abandoned",
	Short: "List messages that were given up on",
	Run:   runAbandoned,
}

func init() {
	abandonedCmd.Flags().StringSliceVar(&abandonedRoutes, "route", nil, "only show these routes")
	abandonedCmd.Flags().StringVar(&abandonedResolve, "resolve", "", "remove the record with this id")
	rootCmd.AddCommand(abandonedCmd)
}

func runAbandoned(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	if abandonedResolve != "" {
		if err := stores.Abandoned.Resolve(ctx, abandonedResolve); err != nil {
			slog.Error("Failed to resolve record", "id", abandonedResolve, "error", err)
			return
		}
		fmt.Printf("Resolved %s\n", abandonedResolve)
		return
	}

	msgs, err := stores.Abandoned.List(ctx, abandonedRoutes...)
	if err != nil {
		slog.Error("Failed to list abandoned messages", "error", err)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No abandoned messages")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tROUTE\tMESSAGE\tKIND\tATTEMPTS\tWHEN\tERROR")
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.Route, m.MessageID, m.Kind, m.Attempts, m.AbandonedAt.Format(time.RFC3339), m.Error)
	}
	_ = w.Flush()
}
