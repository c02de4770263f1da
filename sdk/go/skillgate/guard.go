package skillgate

import (
	"context"
	"time"

	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/registry"
)

// ToolFunc is the function signature of a custom capability. Path
// arguments arrive resolved and already checked against policy.
type ToolFunc func(ctx context.Context, args map[string]any) (detail string, data map[string]any, err error)

// ArgType names the type of a capability argument.
type ArgType = registry.ArgType

const (
	ArgString     = registry.ArgString
	ArgPath       = registry.ArgPath
	ArgInt        = registry.ArgInt
	ArgBool       = registry.ArgBool
	ArgStringList = registry.ArgStringList
	ArgCommand    = registry.ArgCommand
)

// Arg declares one capability argument.
type Arg struct {
	Name        string
	Type        ArgType
	Required    bool
	Description string
}

// Capability declares a custom capability for Register.
type Capability struct {
	Name        string
	Description string
	Category    string
	Aliases     []string
	Args        []Arg

	Destructive     bool
	PathSensitive   bool
	SafeDestructive bool
	Idempotent      bool

	MaxCallsPerWindow int
	Window            time.Duration

	Run ToolFunc
}

// Register adds a custom capability. Its invocations go through the same
// policy, rate limiting and audit as the built-ins.
func (c *Client) Register(capability Capability) error {
	desc := registry.Descriptor{
		Name:              capability.Name,
		Description:       capability.Description,
		Category:          capability.Category,
		Aliases:           capability.Aliases,
		Destructive:       capability.Destructive,
		PathSensitive:     capability.PathSensitive,
		SafeDestructive:   capability.SafeDestructive,
		Idempotent:        capability.Idempotent,
		MaxCallsPerWindow: capability.MaxCallsPerWindow,
		Window:            capability.Window,
	}
	for _, a := range capability.Args {
		desc.Args = append(desc.Args, registry.ArgSpec{
			Name:        a.Name,
			Type:        a.Type,
			Required:    a.Required,
			Description: a.Description,
		})
	}
	if run := capability.Run; run != nil {
		desc.Handler = registry.HandlerFunc(func(ctx context.Context, args registry.Args) (registry.Outcome, error) {
			detail, data, err := run(ctx, args.Clone())
			if err != nil {
				return registry.Outcome{}, err
			}
			return registry.Outcome{Detail: detail, Data: data}, nil
		})
	}
	return c.d.Registry().Register(desc)
}

// Guard returns a function that invokes capability through the client and
// converts non-executed results into errors (*BlockedError or *FailedError).
func (c *Client) Guard(capability string) func(ctx context.Context, args map[string]any) (Result, error) {
	return func(ctx context.Context, args map[string]any) (Result, error) {
		res := toResult(c.d.Submit(ctx, model.Request{
			CapabilityName: capability,
			Arguments:      args,
			Actor:          c.cfg.actor,
		}))
		switch err := res.Err().(type) {
		case nil:
			return res, nil
		case *BlockedError:
			err.Capability = capability
			return res, err
		case *FailedError:
			err.Capability = capability
			return res, err
		default:
			return res, err
		}
	}
}
