// Package registry holds the catalog of invocable capabilities.
//
// Capabilities are registered once at startup. Lookup is case-insensitive
// and resolves aliases; Invoke validates arguments and isolates handler
// panics so a misbehaving skill cannot take down the dispatcher.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/skillgate/internal/model"
)

// ErrInvalidDescriptor is returned when a descriptor fails validation.
var ErrInvalidDescriptor = errors.New("registry: invalid descriptor")

var capName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validate is shared; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("capname", func(fl validator.FieldLevel) bool {
		return capName.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Registry maps capability names and aliases to descriptors.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Descriptor
	aliases map[string]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]Descriptor),
		aliases: make(map[string]string),
	}
}

// Register adds a descriptor. The name and every alias must be unused;
// on conflict the first registration is kept.
func (r *Registry) Register(d Descriptor) error {
	if err := checkDescriptor(d); err != nil {
		return err
	}
	d = d.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{d.Name}, d.Aliases...)
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = normalize(k)
		if seen[k] {
			return fmt.Errorf("%w: %s declares %q twice", ErrInvalidDescriptor, d.Name, k)
		}
		seen[k] = true
		if r.taken(k) {
			return model.Errorf(model.ReasonDuplicateCapability, "%q already registered", k)
		}
	}

	r.byName[d.Name] = d
	for _, a := range d.Aliases {
		r.aliases[normalize(a)] = d.Name
	}
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup finds a descriptor by name or alias, ignoring case.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byName[key]; ok {
		return d.clone(), nil
	}
	if canonical, ok := r.aliases[key]; ok {
		return r.byName[canonical].clone(), nil
	}
	return Descriptor{}, model.Errorf(model.ReasonUnknownCapability, "%q is not a registered capability", name)
}

// All returns every descriptor sorted by name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted canonical capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Invoke validates args against d and runs its handler. Handler errors
// and panics are returned as HandlerExecutionFailure.
func Invoke(ctx context.Context, d Descriptor, raw map[string]any) (out Outcome, err error) {
	args, err := ValidateArgs(d, raw)
	if err != nil {
		return Outcome{}, err
	}

	defer func() {
		if p := recover(); p != nil {
			out = Outcome{}
			err = model.Errorf(model.ReasonHandlerExecutionFailure, "%s panicked: %v", d.Name, p)
		}
	}()

	out, err = d.Handler.Invoke(ctx, args)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", model.ErrHandlerFailure, err)
	}
	return out, nil
}

func (r *Registry) taken(key string) bool {
	if _, ok := r.byName[key]; ok {
		return true
	}
	_, ok := r.aliases[key]
	return ok
}

func checkDescriptor(d Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
	}
	names := make(map[string]bool, len(d.Args))
	for _, a := range d.Args {
		if names[a.Name] {
			return fmt.Errorf("%w: %s: duplicate argument %q", ErrInvalidDescriptor, d.Name, a.Name)
		}
		names[a.Name] = true
	}
	if d.PathSensitive && len(d.PathArgs()) == 0 {
		return fmt.Errorf("%w: %s is path-sensitive but declares no path argument", ErrInvalidDescriptor, d.Name)
	}
	if (d.MaxCallsPerWindow > 0) != (d.Window > 0) {
		return fmt.Errorf("%w: %s: max calls and window must be set together", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
