package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chatrelay/internal/control"
	"github.com/vietddude/chatrelay/internal/core/config"
	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/relaying/orchestrator"
)

var (
	cfgPath  string
	isDebug  bool
	autoMode bool
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Resumable chat relay",
	Long: `chatrelay copies or forwards messages from source conversations to destination
conversations, pacing itself under server rate limits and resuming from a
persisted checkpoint per route.`,
	Run: runRelay,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&autoMode, "yes", "y", false, "auto mode: do not ask for confirmation")
}

// loadConfig reads .env and the config file and installs the logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

func runRelay(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := control.NewRelay(ctx, cfg, control.Options{
		AutoMode: autoMode,
		Confirm:  confirmRoutes,
	})
	if err != nil {
		slog.Error("Failed to initialize relay", "error", err)
		os.Exit(1)
	}

	rep, err := relay.Run(ctx)
	if cerr := relay.Close(); cerr != nil {
		slog.Warn("Error during shutdown", "error", cerr)
	}

	switch {
	case errors.Is(err, orchestrator.ErrDeclined):
		slog.Info("Relay cancelled by operator")
	case errors.Is(err, context.Canceled):
		slog.Warn("Relay interrupted", "relayed", rep.MessagesRelayed)
		os.Exit(130)
	case err != nil:
		slog.Error("Relay job failed", "error", err)
		os.Exit(1)
	case !rep.OK():
		slog.Warn("Relay job finished with errors", "errors", rep.ErrorCount)
	}
}

// confirmRoutes prints the plan and asks the operator to proceed.
func confirmRoutes(routes []domain.Route) bool {
	fmt.Println("The following routes will be relayed:")
	for _, r := range routes {
		fmt.Printf("  %s: %s -> %s (from offset %s)\n", r.Name, r.Source, r.Dest, r.InitialOffset)
	}
	return ask("Proceed?")
}

func ask(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
