package spec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSpecRoundTrip(t *testing.T) {
	cases := []EnvSpec{
		{Mode: EnvInheritAll},
		{Mode: EnvInheritNone},
		{Mode: EnvInheritList, Names: []string{"HOME", "USER", "PATH"}},
		{Mode: EnvInheritAll, Vars: map[string]string{"FOO": "42", "BAR": "somewhere with drinks"}},
	}
	for _, c := range cases {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		var got EnvSpec
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, c.Mode, got.Mode)
		assert.Equal(t, c.Names, got.Names)
		assert.Equal(t, c.Vars, got.Vars)
	}
}

func TestEnvSpecEmptyDefaultsToInheritAll(t *testing.T) {
	var e EnvSpec
	require.NoError(t, json.Unmarshal([]byte(`{}`), &e))
	assert.Equal(t, EnvInheritAll, e.Mode)
	assert.Empty(t, e.Vars)
}

func TestEnvSpecInheritNone(t *testing.T) {
	var e EnvSpec
	require.NoError(t, json.Unmarshal([]byte(`{"inherit": false}`), &e))
	assert.Equal(t, EnvInheritNone, e.Mode)
}

func TestEnvSpecInheritList(t *testing.T) {
	var e EnvSpec
	require.NoError(t, json.Unmarshal([]byte(`{"inherit": ["HOME", "USER", "PATH"]}`), &e))
	assert.Equal(t, EnvInheritList, e.Mode)
	assert.Equal(t, []string{"HOME", "USER", "PATH"}, e.Names)
}

func TestEnvSpecAdmits(t *testing.T) {
	all := EnvSpec{Mode: EnvInheritAll}
	assert.True(t, all.Admits("ANYTHING"))

	none := EnvSpec{Mode: EnvInheritNone}
	assert.False(t, none.Admits("HOME"))

	list := EnvSpec{Mode: EnvInheritList, Names: []string{"HOME"}}
	assert.True(t, list.Admits("HOME"))
	assert.False(t, list.Admits("USER"))
}
