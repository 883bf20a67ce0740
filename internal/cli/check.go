package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatrelay/internal/control"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify credentials, routes and storage without relaying",
	Run:   runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	fmt.Println("Credentials check:")
	fmt.Printf("  api_id:   %s\n", setOrNot(cfg.Credentials.APIID))
	fmt.Printf("  api_hash: %s\n", setOrNot(cfg.Credentials.APIHash))

	fmt.Println("\nRoutes check:")
	fmt.Printf("  routes found: %d\n", len(cfg.Routes))
	for _, r := range cfg.Routes {
		fmt.Printf("  - %s: %s -> %s\n", r.Name, r.Source, r.Dest)
	}

	fmt.Println("\nConfig validation:")
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  OK")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("\nStorage (%s):\n", cfg.Storage.Driver)
	relay, err := control.NewRelay(ctx, cfg, control.Options{AutoMode: true})
	if err != nil {
		fmt.Printf("  FAILED: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = relay.Close()
	}()
	fmt.Println("  OK")

	fmt.Printf("\nMessaging session (%s):\n", cfg.Messaging.Driver)
	if err := relay.CheckConnection(ctx); err != nil {
		fmt.Printf("  FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  OK")

	fmt.Println("\nSetup verification complete. Run `chatrelay` to start relaying.")
}

func setOrNot(v string) string {
	if v == "" {
		return "NOT SET"
	}
	return "SET"
}
