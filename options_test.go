package fiberloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRuntimeOptionsDefaults(t *testing.T) {
	cfg, err := resolveRuntimeOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStackSize, cfg.stackSize)
	assert.Equal(t, DefaultLimitMin, cfg.limitMin)
	assert.Equal(t, DefaultLimitMax, cfg.limitMax)
	assert.Equal(t, DefaultShrinkInterval, cfg.shrinkInterval)
	assert.Equal(t, DefaultCountPerShrink, cfg.countPerShrink)
	assert.NotNil(t, cfg.pollerFactory)
	assert.Nil(t, cfg.logger)
}

func TestResolveRuntimeOptionsOverrides(t *testing.T) {
	cfg, err := resolveRuntimeOptions([]Option{
		WithStackSize(1 << 20),
		WithPoolLimits(2, 4),
		WithShrink(time.Second, 3),
		nil, // skipped
	})
	require.NoError(t, err)
	assert.Equal(t, 1<<20, cfg.stackSize)
	assert.Equal(t, 2, cfg.limitMin)
	assert.Equal(t, 4, cfg.limitMax)
	assert.Equal(t, time.Second, cfg.shrinkInterval)
	assert.Equal(t, 3, cfg.countPerShrink)
}

func TestInvalidOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"negative stack":     WithStackSize(-1),
		"min above max":      WithPoolLimits(8, 4),
		"zero max":           WithPoolLimits(0, 0),
		"zero shrink batch":  WithShrink(time.Second, 0),
		"negative interval":  WithShrink(-time.Second, 1),
		"nil poller factory": WithPollerFactory(nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			assert.Error(t, err)
		})
	}
}
