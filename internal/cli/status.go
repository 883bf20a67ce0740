package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatrelay/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint of every route",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	stored, err := stores.Checkpoints.List(ctx)
	if err != nil {
		slog.Error("Failed to list checkpoints", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ROUTE\tSOURCE\tDEST\tCHECKPOINT\tABANDONED")

	seen := make(map[string]bool)
	for _, r := range cfg.Routes {
		seen[r.Name] = true
		checkpoint := initialLabel(r.Offset)
		if off, ok := stored[r.Name]; ok {
			checkpoint = off.String()
		}
		abandoned, err := stores.Abandoned.Count(ctx, r.Name)
		if err != nil {
			slog.Warn("Failed to count abandoned messages", "route", r.Name, "error", err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Name, r.Source, r.Dest, checkpoint, abandoned)
	}

	// checkpoints of routes no longer configured
	for name, off := range stored {
		if !seen[name] {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t%s\t-\n", name, off)
		}
	}
	_ = w.Flush()
}

func initialLabel(offset string) string {
	if offset == "" {
		offset = "0"
	}
	return offset + " (initial)"
}
