// Package resprint serializes a result document to a file or stdout,
// mirroring original_source/src/main.rs's res::print/res::dump_file split.
package resprint

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/alexhsamuel/procstar/internal/procs"
)

// Print writes res as indented JSON to w.
func Print(w io.Writer, res procs.Res) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteFile writes res as indented JSON to path, or to stdout if path is
// empty.
func WriteFile(path string, res procs.Res) error {
	if path == "" {
		return Print(os.Stdout, res)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "resprint: creating %s", path)
	}
	defer f.Close()
	if err := Print(f, res); err != nil {
		return errors.Wrapf(err, "resprint: writing %s", path)
	}
	return nil
}
