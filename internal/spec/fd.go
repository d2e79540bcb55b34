package spec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// FdKind discriminates the FdSpec tagged union.
type FdKind int

const (
	FdInherit FdKind = iota
	FdNull
	FdFile
	FdCapture
	FdDup
)

// CaptureMode selects where captured output is buffered.
type CaptureMode string

const (
	CaptureMemory   CaptureMode = "memory"
	CaptureTempfile CaptureMode = "tempfile"
)

// CaptureFormat selects how captured bytes are encoded in results.
type CaptureFormat string

const (
	CaptureText   CaptureFormat = "text"
	CaptureBase64 CaptureFormat = "base64"
)

// NullMode selects which end of /dev/null the fd is wired to.
type NullMode string

const (
	NullRead  NullMode = "read"
	NullWrite NullMode = "write"
)

// FdSpec is the tagged union of fd setup strategies. Exactly one of the
// type-specific field groups is meaningful, selected by Kind.
type FdSpec struct {
	Kind FdKind

	// FdNull
	Null NullMode

	// FdFile
	Path  string
	Flags string
	Mode  uint32

	// FdCapture
	CaptureMode   CaptureMode
	CaptureFormat CaptureFormat

	// FdDup
	DupFrom string
}

type fdFileWire struct {
	Path  string `json:"path"`
	Flags string `json:"flags,omitempty"`
	Mode  uint32 `json:"mode,omitempty"`
}

type fdCaptureWire struct {
	Mode   CaptureMode   `json:"mode,omitempty"`
	Format CaptureFormat `json:"format,omitempty"`
}

type fdDupWire struct {
	Fd string `json:"fd"`
}

type fdSpecWire struct {
	Inherit *struct{}      `json:"inherit,omitempty"`
	Null    *NullMode      `json:"null,omitempty"`
	File    *fdFileWire    `json:"file,omitempty"`
	Capture *fdCaptureWire `json:"capture,omitempty"`
	Dup     *fdDupWire     `json:"dup,omitempty"`
}

// UnmarshalJSON decodes the single-key tagged-union wire shape, e.g.
// {"capture": {"mode": "memory", "format": "text"}} or {"inherit": null}.
func (f *FdSpec) UnmarshalJSON(data []byte) error {
	// Bare "inherit" string is accepted as shorthand.
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString == "inherit" {
			f.Kind = FdInherit
			return nil
		}
		return errors.Wrapf(ErrMalformedSpec, "unrecognized fd spec %q", asString)
	}

	var wire fdSpecWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "invalid fd spec")
	}
	// {"inherit": null} leaves wire.Inherit nil; detect the key itself.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err == nil {
		if _, ok := keys["inherit"]; ok {
			wire.Inherit = &struct{}{}
		}
	}

	switch {
	case wire.Inherit != nil:
		f.Kind = FdInherit
	case wire.Null != nil:
		f.Kind = FdNull
		f.Null = *wire.Null
		if f.Null != NullRead && f.Null != NullWrite {
			return errors.Wrapf(ErrMalformedSpec, "invalid null fd mode %q", f.Null)
		}
	case wire.File != nil:
		f.Kind = FdFile
		f.Path = wire.File.Path
		f.Flags = wire.File.Flags
		f.Mode = wire.File.Mode
		if f.Path == "" {
			return errors.Wrap(ErrMalformedSpec, "file fd spec requires a path")
		}
	case wire.Capture != nil:
		f.Kind = FdCapture
		f.CaptureMode = wire.Capture.Mode
		f.CaptureFormat = wire.Capture.Format
		if f.CaptureMode == "" {
			f.CaptureMode = CaptureMemory
		}
		if f.CaptureFormat == "" {
			f.CaptureFormat = CaptureText
		}
	case wire.Dup != nil:
		f.Kind = FdDup
		f.DupFrom = wire.Dup.Fd
		if f.DupFrom == "" {
			return errors.Wrap(ErrMalformedSpec, "dup fd spec requires a target fd name")
		}
	default:
		return errors.Wrap(ErrMalformedSpec, "fd spec has no recognized variant")
	}
	return nil
}

// MarshalJSON round-trips FdSpec to its tagged-union wire shape.
func (f FdSpec) MarshalJSON() ([]byte, error) {
	var wire fdSpecWire
	switch f.Kind {
	case FdInherit:
		wire.Inherit = &struct{}{}
	case FdNull:
		n := f.Null
		wire.Null = &n
	case FdFile:
		wire.File = &fdFileWire{Path: f.Path, Flags: f.Flags, Mode: f.Mode}
	case FdCapture:
		wire.Capture = &fdCaptureWire{Mode: f.CaptureMode, Format: f.CaptureFormat}
	case FdDup:
		wire.Dup = &fdDupWire{Fd: f.DupFrom}
	}
	return json.Marshal(wire)
}
