package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatrelay/internal/control"
	"github.com/vietddude/chatrelay/internal/core/checkpoint"
	"github.com/vietddude/chatrelay/internal/core/domain"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or override route checkpoints",
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set [route] [message_id]",
	Short: "Rewind or advance a route to a given message id",
	Long: `Overwrites the checkpoint of a route. The next run relays messages strictly
after message_id. Use it to skip an abandoned message or to relay a range again.
Setting 0 relays the source from its first message, ignoring the configured offset.`,
	Args: cobra.ExactArgs(2),
	Run:  runCheckpointSet,
}

func init() {
	checkpointCmd.AddCommand(checkpointSetCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointSet(cmd *cobra.Command, args []string) {
	route := args[0]
	offset, err := domain.ParseOffset(args[1])
	if err != nil {
		fmt.Printf("Invalid message id: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()

	known := false
	for _, r := range cfg.Routes {
		if r.Name == route {
			known = true
			break
		}
	}
	if !known {
		slog.Warn("Route is not in the config", "route", route)
	}

	ctx := context.Background()
	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	mgr := checkpoint.NewManager(stores.Checkpoints)
	if err := mgr.Reset(ctx, route, offset); err != nil {
		slog.Error("Failed to set checkpoint", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully set checkpoint for %s to message %s\n", route, offset)
}
