package procs

import (
	"testing"

	"github.com/alexhsamuel/procstar/internal/spec"
	"github.com/stretchr/testify/assert"
)

func TestBuildEnvInheritList(t *testing.T) {
	parent := []string{"HOME=/h", "USER=u"}
	es := spec.EnvSpec{
		Mode:  spec.EnvInheritList,
		Names: []string{"HOME"},
		Vars:  map[string]string{"FOO": "1"},
	}
	got := BuildEnv(parent, es)
	assert.Equal(t, map[string]string{"HOME": "/h", "FOO": "1"}, got)
}

func TestBuildEnvInheritNone(t *testing.T) {
	parent := []string{"HOME=/h", "USER=u"}
	es := spec.EnvSpec{Mode: spec.EnvInheritNone, Vars: map[string]string{"FOO": "1"}}
	got := BuildEnv(parent, es)
	assert.Equal(t, map[string]string{"FOO": "1"}, got)
}

func TestBuildEnvVarsOverrideInherited(t *testing.T) {
	parent := []string{"FOO=old"}
	es := spec.EnvSpec{Mode: spec.EnvInheritAll, Vars: map[string]string{"FOO": "new"}}
	got := BuildEnv(parent, es)
	assert.Equal(t, map[string]string{"FOO": "new"}, got)
}

func TestBuildEnvIgnoresMalformedEntries(t *testing.T) {
	parent := []string{"NOEQUALS", "=emptyname", "OK=1"}
	es := spec.EnvSpec{Mode: spec.EnvInheritAll}
	got := BuildEnv(parent, es)
	assert.Equal(t, map[string]string{"OK": "1"}, got)
}
