package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBudget_LeaseLifecycle(t *testing.T) {
	t.Parallel()
	b := NewWindowBudget(30 * time.Second)

	release, ok := b.Begin("poll")
	require.True(t, ok)
	assert.Equal(t, 1, b.Outstanding())

	release()
	release()
	assert.Equal(t, 0, b.Outstanding(), "release is idempotent")
	assert.Equal(t, 0, b.Overruns())
}

func TestWindowBudget_ZeroWindowDenies(t *testing.T) {
	t.Parallel()
	b := NewWindowBudget(0)

	release, ok := b.Begin("poll")
	assert.False(t, ok)
	release()
	assert.Equal(t, 0, b.Outstanding())
}

func TestWindowBudget_CountsOverruns(t *testing.T) {
	t.Parallel()
	b := NewWindowBudget(30 * time.Second)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	release, ok := b.Begin("poll")
	require.True(t, ok)
	now = now.Add(31 * time.Second)
	release()

	assert.Equal(t, 1, b.Overruns())
	assert.Equal(t, 0, b.Outstanding())
}
