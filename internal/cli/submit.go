package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/model"
)

var (
	submitJSON   string
	submitDryRun bool
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitJSON, "json", "", "Arguments as a JSON object (merged under key=value pairs)")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "Evaluate policy and rate limits without executing")
}

var submitCmd = &cobra.Command{
	Use:   "submit <capability> [name=value ...]",
	Short: "Invoke a capability through the gateway",
	Long: "Submits one invocation and prints the result as JSON.\n" +
		"Values are parsed as JSON when possible (numbers, booleans, arrays), otherwise taken as strings.\n" +
		"Example: skillgate submit move_file src=~/Downloads/report.pdf dst=~/Documents",
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	arguments, err := parseArguments(submitJSON, args[1:])
	if err != nil {
		return err
	}

	g, err := openGateway()
	if err != nil {
		return err
	}
	defer g.Close()

	req := model.Request{
		CapabilityName: args[0],
		Arguments:      arguments,
		Actor:          model.ActorCLI,
	}

	if submitDryRun {
		return printJSON(g.d.Preview(contextOf(cmd), req))
	}

	res := g.d.Submit(contextOf(cmd), req)
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: %s", res.Status, res.Reason)
	}
	return nil
}

// parseArguments merges a JSON object with name=value pairs; pairs win.
func parseArguments(rawJSON string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("argument %q is not name=value", p)
		}
		out[strings.TrimSpace(name)] = parseValue(value)
	}
	return out, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case float64, bool, []any:
			return v
		}
	}
	return s
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
