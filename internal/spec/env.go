package spec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EnvInheritMode selects which of the parent's environment variables are
// visible to the child before Vars is overlaid.
type EnvInheritMode int

const (
	// EnvInheritAll inherits every variable from the parent environment.
	EnvInheritAll EnvInheritMode = iota
	// EnvInheritNone inherits nothing from the parent environment.
	EnvInheritNone
	// EnvInheritList inherits only the named variables.
	EnvInheritList
)

// EnvSpec describes how a child's environment is built from the parent's
// plus explicit overrides.
type EnvSpec struct {
	Mode  EnvInheritMode
	Names []string          // valid when Mode == EnvInheritList
	Vars  map[string]string // overlaid on top of inherited vars
}

// envSpecWire is the on-the-wire shape: {"inherit": true|false|[...], "vars": {...}}.
type envSpecWire struct {
	Inherit json.RawMessage   `json:"inherit,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
}

// UnmarshalJSON implements the true|false|[names] union for "inherit",
// matching original_source/src/environ.rs's EnvInherit enum.
func (e *EnvSpec) UnmarshalJSON(data []byte) error {
	var wire envSpecWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "invalid env spec")
	}

	e.Vars = wire.Vars
	if len(wire.Inherit) == 0 {
		e.Mode = EnvInheritAll
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(wire.Inherit, &asBool); err == nil {
		if asBool {
			e.Mode = EnvInheritAll
		} else {
			e.Mode = EnvInheritNone
		}
		return nil
	}

	var names []string
	if err := json.Unmarshal(wire.Inherit, &names); err == nil {
		e.Mode = EnvInheritList
		e.Names = names
		return nil
	}

	return errors.Wrap(ErrMalformedSpec, `"inherit" must be a bool or a list of names`)
}

// MarshalJSON round-trips EnvSpec back to the wire shape.
func (e EnvSpec) MarshalJSON() ([]byte, error) {
	wire := envSpecWire{Vars: e.Vars}
	var err error
	switch e.Mode {
	case EnvInheritAll:
		wire.Inherit, err = json.Marshal(true)
	case EnvInheritNone:
		wire.Inherit, err = json.Marshal(false)
	case EnvInheritList:
		wire.Inherit, err = json.Marshal(e.Names)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// Admits reports whether the parent env variable named name should be
// inherited under this spec, before Vars is overlaid.
func (e EnvSpec) Admits(name string) bool {
	switch e.Mode {
	case EnvInheritAll:
		return true
	case EnvInheritNone:
		return false
	case EnvInheritList:
		for _, n := range e.Names {
			if n == name {
				return true
			}
		}
		return false
	default:
		return false
	}
}
