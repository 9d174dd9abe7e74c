//go:build unix

package fiberloop

import (
	"bytes"
	"testing"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRuntimeLogsStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
	).Logger()

	rt, err := New(WithLogger(logger), WithPoolLimits(1, 2))
	require.NoError(t, err)

	fd, _ := listenTCP(t)
	t.Cleanup(func() { _ = unix.Close(fd) })
	require.NoError(t, rt.AddListen(fd, echoHandler))

	out := buf.String()
	assert.Contains(t, out, `"msg":"runtime initialized"`)
	assert.Contains(t, out, `limit_min`)
}

func TestNilLoggerIsSafe(t *testing.T) {
	rt, err := New(WithPoolLimits(1, 2))
	require.NoError(t, err)

	fd, _ := listenTCP(t)
	t.Cleanup(func() { _ = unix.Close(fd) })
	assert.NoError(t, rt.AddListen(fd, echoHandler))
}
