package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFdName(t *testing.T) {
	n, err := ParseFdName("stdout")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ParseFdName("5")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = ParseFdName("bogus")
	assert.ErrorIs(t, err, ErrInvalidFdName)
}

func TestValidateFdsDupCycle(t *testing.T) {
	fds := map[string]FdSpec{
		"stdout": {Kind: FdDup, DupFrom: "stderr"},
		"stderr": {Kind: FdDup, DupFrom: "stdout"},
	}
	err := ValidateFds(fds)
	assert.ErrorIs(t, err, ErrFdDupCycle)
}

func TestValidateFdsUnknownRef(t *testing.T) {
	fds := map[string]FdSpec{
		"stdout": {Kind: FdDup, DupFrom: "stderr"},
	}
	err := ValidateFds(fds)
	assert.ErrorIs(t, err, ErrUnknownFdRef)
}

func TestValidateFdsOK(t *testing.T) {
	fds := map[string]FdSpec{
		"stdout": {Kind: FdCapture, CaptureMode: CaptureMemory, CaptureFormat: CaptureText},
		"stderr": {Kind: FdDup, DupFrom: "stdout"},
	}
	assert.NoError(t, ValidateFds(fds))
}
