package procs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPipeDrainsLinesUntilEOF(t *testing.T) {
	p, err := NewErrorPipe()
	require.NoError(t, err)

	done := make(chan []string, 1)
	go func() {
		done <- p.Drain()
	}()

	_, err = p.WriteEnd().WriteString("first\nsecond\n")
	require.NoError(t, err)
	require.NoError(t, p.WriteEnd().Close())

	lines := <-done
	assert.Equal(t, []string{"first", "second"}, lines)
}

func TestErrorPipeDrainEmptyOnImmediateClose(t *testing.T) {
	p, err := NewErrorPipe()
	require.NoError(t, err)
	require.NoError(t, p.WriteEnd().Close())
	assert.Empty(t, p.Drain())
}
