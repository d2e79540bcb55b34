package spec

import (
	"strconv"

	"github.com/pkg/errors"
)

// fixed fd name -> number mapping.
var fdNameToNumber = map[string]int{
	"stdin":  0,
	"stdout": 1,
	"stderr": 2,
}

var fdNumberToName = map[int]string{
	0: "stdin",
	1: "stdout",
	2: "stderr",
}

// ParseFdName resolves an fd name ("stdin", "stdout", "stderr", or a decimal
// numeral) to its fd number.
func ParseFdName(name string) (int, error) {
	if n, ok := fdNameToNumber[name]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(ErrInvalidFdName, "%q", name)
	}
	return n, nil
}

// FdName returns the canonical name for an fd number (a decimal numeral for
// numbers with no standard name).
func FdName(n int) string {
	if name, ok := fdNumberToName[n]; ok {
		return name
	}
	return strconv.Itoa(n)
}

// ValidateFds checks the fd-name and Dup-cycle constraints: every key parses
// as an fd name/number, every Dup target refers to another configured fd,
// and there are no Dup cycles.
func ValidateFds(fds map[string]FdSpec) error {
	byNumber := make(map[int]FdSpec, len(fds))
	for name, f := range fds {
		n, err := ParseFdName(name)
		if err != nil {
			return err
		}
		byNumber[n] = f
	}

	for name, f := range fds {
		if f.Kind != FdDup {
			continue
		}
		target, err := ParseFdName(f.DupFrom)
		if err != nil {
			return errors.Wrapf(ErrInvalidFdName, "dup target %q", f.DupFrom)
		}
		if _, ok := byNumber[target]; !ok {
			return errors.Wrapf(ErrUnknownFdRef, "%q dups unconfigured fd %q", name, f.DupFrom)
		}
		self, _ := ParseFdName(name)
		if err := checkDupAcyclic(byNumber, self, map[int]bool{self: true}); err != nil {
			return err
		}
	}
	return nil
}

func checkDupAcyclic(byNumber map[int]FdSpec, n int, seen map[int]bool) error {
	f, ok := byNumber[n]
	if !ok || f.Kind != FdDup {
		return nil
	}
	next, err := ParseFdName(f.DupFrom)
	if err != nil {
		return nil
	}
	if seen[next] {
		return errors.Wrapf(ErrFdDupCycle, "cycle involving fd %d", next)
	}
	seen[next] = true
	return checkDupAcyclic(byNumber, next, seen)
}
