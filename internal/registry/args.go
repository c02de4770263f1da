package registry

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/skillgate/internal/model"
)

// Args is a validated argument map. Values have the Go type implied by
// their ArgSpec: string, int, bool or []string.
type Args map[string]any

// String returns a string-like argument, or "" if absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an int argument, or def if absent.
func (a Args) Int(name string, def int) int {
	if v, ok := a[name].(int); ok {
		return v
	}
	return def
}

// Bool returns a bool argument, or false if absent.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Strings returns a string_list argument.
func (a Args) Strings(name string) []string {
	v, _ := a[name].([]string)
	return v
}

// Has returns true if name was supplied.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Clone returns a shallow copy.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ValidateArgs checks raw arguments against d's schema and returns a
// normalized copy. Missing required arguments are MissingArgument;
// wrong types and unknown names are InvalidArgument.
func ValidateArgs(d Descriptor, raw map[string]any) (Args, error) {
	var unknown []string
	for name := range raw {
		if _, ok := d.Arg(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, model.Errorf(model.ReasonInvalidArgument, "unknown argument(s) for %s: %s", d.Name, strings.Join(unknown, ", "))
	}

	out := make(Args, len(d.Args))
	for _, spec := range d.Args {
		v, ok := raw[spec.Name]
		if !ok || v == nil {
			if spec.Required {
				return nil, model.Errorf(model.ReasonMissingArgument, "%s requires %q", d.Name, spec.Name)
			}
			continue
		}
		norm, err := coerce(spec, v)
		if err != nil {
			return nil, err
		}
		if spec.Required && isBlank(norm) {
			return nil, model.Errorf(model.ReasonMissingArgument, "%s requires non-empty %q", d.Name, spec.Name)
		}
		out[spec.Name] = norm
	}
	return out, nil
}

func coerce(spec ArgSpec, v any) (any, error) {
	switch spec.Type {
	case ArgString, ArgPath, ArgCommand:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(spec, v)
		}
		if spec.Type != ArgString {
			s = strings.TrimSpace(s)
		}
		return s, nil

	case ArgInt:
		return toInt(spec, v)

	case ArgBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, typeError(spec, v)
			}
			return parsed, nil
		}
		return nil, typeError(spec, v)

	case ArgStringList:
		switch list := v.(type) {
		case []string:
			return append([]string(nil), list...), nil
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, typeError(spec, v)
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, typeError(spec, v)
	}
	return nil, model.Errorf(model.ReasonInvalidArgument, "argument %q has unsupported type %q", spec.Name, spec.Type)
}

// toInt accepts Go integers and integral JSON numbers.
func toInt(spec ArgSpec, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, typeError(spec, v)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, typeError(spec, v)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, typeError(spec, v)
		}
		return i, nil
	}
	return 0, typeError(spec, v)
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	}
	return false
}

func typeError(spec ArgSpec, v any) error {
	return model.Errorf(model.ReasonInvalidArgument, "argument %q must be %s, got %T", spec.Name, spec.Type, v)
}
