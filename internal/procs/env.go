package procs

import (
	"strings"

	"github.com/alexhsamuel/procstar/internal/spec"
)

// BuildEnv composes a child's environment from the parent's os.Environ()-style
// slice and an EnvSpec: keep entries admitted by the inherit policy, then
// overlay vars, which win on collision.
func BuildEnv(parentEnv []string, es spec.EnvSpec) map[string]string {
	env := make(map[string]string, len(es.Vars))
	for _, kv := range parentEnv {
		name, value, ok := splitEnv(kv)
		if !ok || name == "" {
			continue
		}
		if es.Admits(name) {
			env[name] = value
		}
	}
	for name, value := range es.Vars {
		if name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

// EnvSlice renders an env map in "name=value" form suitable for execve.
func EnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for name, value := range env {
		out = append(out, name+"="+value)
	}
	return out
}

func splitEnv(kv string) (name, value string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i < 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
