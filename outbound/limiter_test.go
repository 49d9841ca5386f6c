package outbound

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterIsNoOp(t *testing.T) {
	var l *Limiter
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestAcquireAndRelease(t *testing.T) {
	l := NewLimiter(1, time.Second)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestAcquireFailsFastWhenExhausted(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = l.Acquire(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "queued acquirer must fail fast, not hang")
}

func TestAcquireHonorsCallerContext(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx)
	assert.Error(t, err)
}
