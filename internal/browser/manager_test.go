package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/browser/browsertest"
	"yqhp/web-runner/pkg/types"
)

func TestManager_AcquireReusesSession(t *testing.T) {
	l := browsertest.NewLauncher()
	m := l.Manager()
	ctx := context.Background()

	assert.False(t, m.Initialized())

	s1, err := m.Acquire(ctx, true, types.DefaultTimeoutConfig())
	require.NoError(t, err)
	s2, err := m.Acquire(ctx, true, types.TimeoutConfig{PageTimeout: 1, ActionTimeout: 2, NavigationTimeout: 3})
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.True(t, m.Initialized())
	launches, _ := l.Counts()
	assert.Equal(t, 1, launches)
	assert.Equal(t, 3, l.Page.Timeouts.NavigationTimeout)

	require.Len(t, l.Options, 1)
	assert.True(t, l.Options[0].Headless)
	assert.Equal(t, []string{"--no-sandbox", "--disable-setuid-sandbox"}, l.Options[0].Args)
	assert.Equal(t, browser.Viewport{Width: 1280, Height: 720}, l.Options[0].Viewport)
}

func TestManager_ReleaseIsUnconditional(t *testing.T) {
	l := browsertest.NewLauncher()
	m := l.Manager()
	ctx := context.Background()

	require.NoError(t, m.Release(ctx))

	_, err := m.Acquire(ctx, true, types.DefaultTimeoutConfig())
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx))
	require.NoError(t, m.Release(ctx))

	assert.False(t, m.Initialized())
	launches, closes := l.Counts()
	assert.Equal(t, 1, launches)
	assert.Equal(t, 1, closes)
}

func TestManager_ModeChangeRelaunches(t *testing.T) {
	l := browsertest.NewLauncher()
	m := l.Manager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, true, types.DefaultTimeoutConfig())
	require.NoError(t, err)
	_, err = m.Acquire(ctx, false, types.DefaultTimeoutConfig())
	require.NoError(t, err)

	launches, closes := l.Counts()
	assert.Equal(t, 2, launches)
	assert.Equal(t, 1, closes)
	assert.False(t, m.Headless())

	require.NoError(t, m.SetMode(ctx, true, types.DefaultTimeoutConfig()))
	assert.True(t, m.Headless())
	launches, _ = l.Counts()
	assert.Equal(t, 3, launches)
}

func TestManager_LaunchFailurePropagates(t *testing.T) {
	l := browsertest.NewLauncher()
	l.Err = errors.New("chromium missing")
	m := l.Manager()

	_, err := m.Acquire(context.Background(), true, types.DefaultTimeoutConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium missing")
	assert.False(t, m.Initialized())
}

func TestManager_CurrentUsesLastMode(t *testing.T) {
	l := browsertest.NewLauncher()
	m := l.Manager()
	ctx := context.Background()

	require.NoError(t, m.SetMode(ctx, false, types.DefaultTimeoutConfig()))
	require.NoError(t, m.Release(ctx))

	_, err := m.Current(ctx, types.DefaultTimeoutConfig())
	require.NoError(t, err)
	require.Len(t, l.Options, 2)
	assert.False(t, l.Options[1].Headless)
}
