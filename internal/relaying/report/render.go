package report

import (
	"fmt"
	"strings"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// maxListed caps the abandoned messages listed per route in a summary.
const maxListed = 10

// Render formats a run report as a markdown summary.
func Render(r *domain.RunReport) string {
	var b strings.Builder

	if r.OK() {
		b.WriteString("✅ **Relay job completed successfully!**\n\n")
	} else if r.Err != nil {
		fmt.Fprintf(&b, "❌ **Relay job aborted with %d errors.**\n\n", r.ErrorCount)
		fmt.Fprintf(&b, "Fatal: `%v`\n\n", r.Err)
	} else {
		fmt.Fprintf(&b, "⚠️ **Relay job completed with %d errors.** Check logs for details.\n\n", r.ErrorCount)
	}

	b.WriteString("📊 **Statistics:**\n")
	fmt.Fprintf(&b, "• Messages relayed: %d\n", r.MessagesRelayed)
	fmt.Fprintf(&b, "• Errors: %d\n", r.ErrorCount)
	fmt.Fprintf(&b, "• Time taken: %.1f minutes\n", r.Elapsed.Minutes())
	fmt.Fprintf(&b, "• Average rate: %.1f msgs/min\n", r.RatePerMinute())

	if len(r.PerRoute) > 0 {
		b.WriteString("\n🔀 **Routes:**\n")
	}
	for _, o := range r.PerRoute {
		fmt.Fprintf(&b, "• `%s` %s → %s: %d relayed, %d skipped, checkpoint %s",
			o.Route.Name, o.Route.Source, o.Route.Dest, o.Relayed, o.Skipped, o.Checkpoint)
		if o.Err != nil {
			fmt.Fprintf(&b, ", failed: %v", o.Err)
		}
		b.WriteString("\n")

		for i, a := range o.Abandoned {
			if i == maxListed {
				fmt.Fprintf(&b, "  ◦ … and %d more\n", len(o.Abandoned)-maxListed)
				break
			}
			fmt.Fprintf(&b, "  ◦ message %s abandoned after %d attempts (%s)\n", a.MessageID, a.Attempts, a.Kind)
		}
	}

	if r.RunID != "" {
		fmt.Fprintf(&b, "\nRun `%s`\n", r.RunID)
	}
	return b.String()
}
