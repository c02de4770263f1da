// Package skillgate provides in-process capability dispatch for Go
// assistants. Invocations are checked against the security policy and
// rate limits, executed, audited, and recorded for undo when reversible.
//
// Usage:
//
//	sg, err := skillgate.New(skillgate.WithAllowedRoots("~/Downloads", "~/Documents"))
//	res := sg.Invoke(ctx, "move_file", map[string]any{
//	    "src": "~/Downloads/report.pdf",
//	    "dst": "~/Documents",
//	})
//	if res.Reversible() {
//	    sg.Undo(ctx, res.ActionID)
//	}
//
// The SDK links directly against internal packages, so no gateway process
// is needed. External users import github.com/ppiankov/skillgate/sdk/go/skillgate.
package skillgate
