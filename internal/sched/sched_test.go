package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerRunsPeriodically(t *testing.T) {
	var count atomic.Int32
	h := Ticker{}.Every(5*time.Millisecond, true, func() { count.Add(1) })
	defer h.Stop()

	// the immediate run happens synchronously
	require.GreaterOrEqual(t, count.Load(), int32(1))

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop() // idempotent
	settled := count.Load()
	time.Sleep(25 * time.Millisecond)
	assert.LessOrEqual(t, count.Load()-settled, int32(1)) // at most one in-flight tick
}

func TestManualTicksInRegistrationOrder(t *testing.T) {
	m := NewManual()

	var order []string
	m.Every(time.Minute, false, func() { order = append(order, "capture") })
	m.Every(time.Second, false, func() { order = append(order, "metadata") })
	require.Equal(t, 2, m.Len())

	m.Tick(1)
	m.Tick(0)
	m.TickAll()
	assert.Equal(t, []string{"metadata", "capture", "capture", "metadata"}, order)
}

func TestManualImmediateAndStop(t *testing.T) {
	m := NewManual()

	count := 0
	h := m.Every(time.Minute, true, func() { count++ })
	assert.Equal(t, 1, count)

	h.Stop()
	m.TickAll()
	assert.Equal(t, 1, count)
}
