package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/model"
)

var (
	undoCapability string
	undoList       bool
	undoLimit      int
)

func init() {
	rootCmd.AddCommand(undoCmd)
	undoCmd.Flags().StringVarP(&undoCapability, "capability", "c", "", "Undo the newest action of this capability")
	undoCmd.Flags().BoolVarP(&undoList, "list", "l", false, "List recent reversible actions instead of undoing")
	undoCmd.Flags().IntVarP(&undoLimit, "lines", "n", 20, "Number of entries for --list")
}

var undoCmd = &cobra.Command{
	Use:   "undo [action-id]",
	Short: "Reverse a recorded action",
	Long: "Runs the inverse of a reversible action through the gateway. Without an action ID the\n" +
		"newest unconsumed action (optionally of --capability) is undone. Each action can be undone once.",
	Args: cobra.MaximumNArgs(1),
	RunE: runUndo,
}

func runUndo(cmd *cobra.Command, args []string) error {
	g, err := openGateway()
	if err != nil {
		return err
	}
	defer g.Close()

	ctx := contextOf(cmd)
	if undoList {
		entries, err := g.ledger.Recent(ctx, undoLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No reversible actions recorded.")
			return nil
		}
		for _, e := range entries {
			state := "available"
			if e.Consumed {
				state = "undone " + e.ConsumedAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%s  %s  %-12s -> %-12s %s\n",
				e.ActionID, e.CreatedAt.Local().Format(time.DateTime), e.Capability, e.Inverse.Capability, state)
		}
		return nil
	}

	var res model.Result
	if len(args) == 1 {
		res = g.d.Undo(ctx, args[0], model.ActorCLI)
	} else {
		res = g.d.UndoLast(ctx, undoCapability, model.ActorCLI)
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: %s", res.Status, res.Reason)
	}
	return nil
}
