package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/classify"
)

var (
	cooldownWait bool
	cooldownRun  bool
)

var cooldownCmd = &cobra.Command{
	Use:   "cooldown [seconds|error]",
	Short: "Show when a server cooldown expires",
	Long: `Prints the time at which a server-imposed cooldown expires. The argument is
either a number of seconds or the error text the server returned, for example
"FLOOD_WAIT_2891".`,
	Args: cobra.ExactArgs(1),
	Run:  runCooldown,
}

func init() {
	cooldownCmd.Flags().BoolVar(&cooldownWait, "wait", false, "block until the cooldown expires")
	cooldownCmd.Flags().BoolVar(&cooldownRun, "run", false, "start the relay once the cooldown expires (implies --wait)")
	rootCmd.AddCommand(cooldownCmd)
}

func runCooldown(cmd *cobra.Command, args []string) {
	d, err := parseCooldown(args[0])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	now := time.Now()
	until := now.Add(d)
	fmt.Printf("Current time: %s\n", now.Format(time.DateTime))
	fmt.Printf("You need to wait %d seconds (%.1f minutes)\n", int(d.Seconds()), d.Minutes())
	fmt.Printf("You can run the relay again after: %s\n", until.Format(time.DateTime))

	if !cooldownWait && !cooldownRun {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Waiting %s...\n", d)
	if err := backoff.Sleep(ctx, backoff.RealClock(), d); err != nil {
		fmt.Println("Wait interrupted")
		os.Exit(130)
	}
	fmt.Println("Wait complete!")

	if cooldownRun {
		stop()
		runRelay(cmd, nil)
	}
}

// parseCooldown accepts plain seconds or a server error carrying a cooldown.
func parseCooldown(arg string) (time.Duration, error) {
	if secs, err := strconv.Atoi(arg); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("cooldown must not be negative: %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	f := classify.Classify(errors.New(arg))
	if f.Kind != domain.FailureRateLimited {
		return 0, fmt.Errorf("no cooldown found in %q", arg)
	}
	return f.Cooldown, nil
}
