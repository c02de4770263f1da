package registry

import (
	"context"
	"time"

	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/ratelimit"
)

// ArgType is the declared type of one capability argument.
type ArgType string

const (
	ArgString     ArgType = "string"
	ArgPath       ArgType = "path"
	ArgInt        ArgType = "int"
	ArgBool       ArgType = "bool"
	ArgStringList ArgType = "string_list"

	// ArgCommand is a program name checked against the command denylist.
	ArgCommand ArgType = "command"
)

// ArgSpec describes one named argument.
type ArgSpec struct {
	Name        string  `validate:"required,capname"`
	Type        ArgType `validate:"required,oneof=string path int bool string_list command"`
	Required    bool
	Description string

	// NoFollow makes a path argument name the entry itself: a trailing
	// symlink is not resolved.
	NoFollow bool
}

// Outcome is what a handler returns on success.
type Outcome struct {
	Detail string
	Data   map[string]any

	// Inverse is set by reversible handlers to describe how to undo the
	// action that just ran. Nil means nothing to undo.
	Inverse *model.Inverse
}

// Handler executes a capability with validated, resolved arguments.
type Handler interface {
	Invoke(ctx context.Context, args Args) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args Args) (Outcome, error)

// Invoke calls f(ctx, args).
func (f HandlerFunc) Invoke(ctx context.Context, args Args) (Outcome, error) {
	return f(ctx, args)
}

// Descriptor is the static description of one capability.
// The registry keeps its own copy; callers cannot mutate a registered descriptor.
type Descriptor struct {
	Name        string `validate:"required,capname"`
	Description string
	Category    string
	Aliases     []string  `validate:"dive,required"`
	Handler     Handler   `validate:"required"`
	Args        []ArgSpec `validate:"dive"`

	Destructive     bool
	PathSensitive   bool
	SafeDestructive bool
	Reversible      bool
	Idempotent      bool

	MaxCallsPerWindow int           `validate:"gte=0"`
	Window            time.Duration `validate:"gte=0"`
}

// Limit returns the descriptor's own rate limit.
func (d Descriptor) Limit() ratelimit.Limit {
	return ratelimit.Limit{MaxRequests: d.MaxCallsPerWindow, Window: d.Window}
}

// PathArgs returns the names of path-typed arguments in declaration order.
func (d Descriptor) PathArgs() []string {
	return d.argsOfType(ArgPath)
}

// CommandArgs returns the names of command-typed arguments.
func (d Descriptor) CommandArgs() []string {
	return d.argsOfType(ArgCommand)
}

// Serialized returns true if concurrent invocations must not overlap.
func (d Descriptor) Serialized() bool {
	return d.PathSensitive && !d.Idempotent
}

// Arg returns the spec for name.
func (d Descriptor) Arg(name string) (ArgSpec, bool) {
	for _, a := range d.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgSpec{}, false
}

func (d Descriptor) argsOfType(t ArgType) []string {
	var out []string
	for _, a := range d.Args {
		if a.Type == t {
			out = append(out, a.Name)
		}
	}
	return out
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.Aliases = append([]string(nil), d.Aliases...)
	c.Args = append([]ArgSpec(nil), d.Args...)
	return c
}
