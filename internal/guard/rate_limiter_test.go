package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	l := NewRateLimiter(1, 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst exhausted")

	st := l.Stats()
	assert.Equal(t, int64(2), st.AllowedTotal)
	assert.Equal(t, int64(1), st.RejectedTotal)
	assert.Equal(t, 2, st.Burst)
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	l := NewRateLimiter(0.5, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "next token is two seconds away")
	assert.Equal(t, int64(1), l.Stats().RejectedTotal)
}

func TestRateLimiter_Defaults(t *testing.T) {
	st := NewRateLimiter(0, 0).Stats()
	assert.Equal(t, 5.0, st.RatePerSecond)
	assert.Equal(t, 1, st.Burst)
}
