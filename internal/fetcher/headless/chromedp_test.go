package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{BlockResources: true, Prewarm: 50}.withDefaults()
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	require.Equal(t, "body", cfg.WaitSelector)
	require.Equal(t, 5, cfg.MaxConcurrent)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 20, cfg.PoolSize)
	require.Equal(t, 20, cfg.Prewarm, "prewarm is capped at the pool size")
	require.Contains(t, cfg.BlockedURLPatterns, "*.woff2")

	custom := Config{BlockResources: true, BlockedURLPatterns: []string{"*.gif"}}.withDefaults()
	require.Equal(t, []string{"*.gif"}, custom.BlockedURLPatterns)

	off := Config{}.withDefaults()
	require.Empty(t, off.BlockedURLPatterns)
}

func TestAllocatorOptionsHeadlessToggle(t *testing.T) {
	t.Parallel()

	headless := allocatorOptions(Config{Headless: true})
	visible := allocatorOptions(Config{Headless: false, UserAgent: "catalog-crawler/test"})
	require.NotEmpty(t, headless)
	require.Len(t, visible, len(headless)+1, "user agent adds one option")
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected parent cancellation to propagate")
	}
}

func TestForwardCancelStopDetaches(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		parent, cancelParent := context.WithCancel(context.Background())
		child, cancelChild := context.WithCancel(context.Background())

		stop := forwardCancel(parent, cancelChild)
		require.True(t, stop(), "nothing was forwarded yet")
		cancelParent()

		time.Sleep(time.Millisecond)
		require.NoError(t, child.Err(), "iteration %d: cancel fired after stop", i)
		cancelChild()
	}
}

func TestForwardCancelNilParent(t *testing.T) {
	t.Parallel()

	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	//nolint:staticcheck // nil parent is the documented no-op case.
	stop := forwardCancel(nil, cancelChild)
	require.True(t, stop())
	require.NoError(t, child.Err())
}

func TestForwardCancelStopReportsFiredForward(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	cancelParent()
	<-child.Done()
	require.False(t, stop(), "stop reports that cancel already fired")
}
