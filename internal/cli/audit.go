package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/audit"
)

var (
	tailLines        int
	tailJSON         bool
	replayRequest    string
	replayCapability string
	replayStatus     string
	replayFrom       string
	replayTo         string
	replayFormat     string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVar(&tailJSON, "json", false, "Print raw JSON entries")
	auditReplayCmd.Flags().StringVar(&replayRequest, "request", "", "Only this request ID")
	auditReplayCmd.Flags().StringVarP(&replayCapability, "capability", "c", "", "Only this capability")
	auditReplayCmd.Flags().StringVarP(&replayStatus, "status", "s", "", "Only this status (e.g. denied_policy)")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.\nThe log defaults to <state-dir>/audit.jsonl.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay invocations from the audit log",
	Long:  "Reads the audit log, filters by request, capability, status and time range,\nand renders a decision timeline with summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

func logPathArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return auditPath()
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(logPathArg(args))
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	entries, err := audit.Tail(logPathArg(args), tailLines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if tailJSON {
			if err := printJSON(e); err != nil {
				return err
			}
			continue
		}
		fmt.Println(audit.FormatEntry(e))
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{
		RequestID:  replayRequest,
		Capability: replayCapability,
		Status:     replayStatus,
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := audit.Replay(logPathArg(args), filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}
	return nil
}
