package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Settings{FailureThreshold: 2, Timeout: time.Minute, Now: clock.Now})

	require.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, Closed, b.State())
	require.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Settings{FailureThreshold: 2})

	_ = b.Execute(func() error { return errBoom })
	require.NoError(t, b.Execute(func() error { return nil }))
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Settings{FailureThreshold: 1, Timeout: 10 * time.Second, Now: clock.Now})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, Open, b.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// 探测失败重新打开
	require.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, Open, b.State())

	clock.Advance(10 * time.Second)
	v, err := Do(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Settings{FailureThreshold: 1, Timeout: time.Second, Now: clock.Now})
	_ = b.Execute(func() error { return errBoom })
	clock.Advance(time.Second)

	err := b.Execute(func() error {
		// 探测进行中，第二个调用被拒绝
		return b.Execute(func() error { return nil })
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Open", Open.String())
	assert.Equal(t, "Half-Open", HalfOpen.String())
	assert.Equal(t, "Unknown", State(9).String())
}
