package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/registry"
	"github.com/ppiankov/skillgate/internal/skills"
)

var capabilitiesSchema bool

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
	capabilitiesCmd.Flags().BoolVar(&capabilitiesSchema, "schema", false, "Print JSON Schema of each capability's arguments")
}

var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"caps"},
	Short:   "List registered capabilities",
	RunE:    runCapabilities,
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	reg := registry.New()
	if err := skills.RegisterBuiltins(reg, skills.Options{}); err != nil {
		return err
	}

	if capabilitiesSchema {
		schemas := make(map[string]any, reg.Len())
		for _, d := range reg.All() {
			schemas[d.Name] = registry.Schema(d)
		}
		return printJSON(schemas)
	}

	for _, d := range reg.All() {
		fmt.Printf("%-14s %-8s %s\n", d.Name, d.Category, d.Description)
		var flags []string
		if d.Destructive {
			flags = append(flags, "destructive")
		}
		if d.SafeDestructive {
			flags = append(flags, "safe")
		}
		if d.Reversible {
			flags = append(flags, "reversible")
		}
		if l := d.Limit(); l.Enabled() {
			flags = append(flags, fmt.Sprintf("max %d/%s", l.MaxRequests, l.Window))
		}
		if len(d.Aliases) > 0 {
			fmt.Printf("%-14s aliases: %s\n", "", strings.Join(d.Aliases, ", "))
		}
		for _, a := range d.Args {
			req := ""
			if a.Required {
				req = " (required)"
			}
			fmt.Printf("%-14s   %s: %s%s\n", "", a.Name, a.Type, req)
		}
		if len(flags) > 0 {
			fmt.Printf("%-14s [%s]\n", "", strings.Join(flags, ", "))
		}
	}
	return nil
}
