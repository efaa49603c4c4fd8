package holdtimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNegotiatedHoldDisablesDiscipline(t *testing.T) {
	tm := New(0)
	time.Sleep(2 * time.Millisecond)
	assert.False(t, tm.ShouldSendKeepalive())
	assert.False(t, tm.IsExpired())
}

func TestKeepaliveIntervalIsHoldOverThree(t *testing.T) {
	tm := New(90 * time.Second)
	assert.Equal(t, 30*time.Second, tm.interval)
}

func TestIsExpiredAfterHold(t *testing.T) {
	tm := New(5 * time.Millisecond)
	assert.False(t, tm.IsExpired())
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tm.IsExpired())
}

func TestRemainingSaturatesAtZero(t *testing.T) {
	tm := New(1 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, time.Duration(0), tm.Remaining())
}

func TestCounters(t *testing.T) {
	var c Counters
	c.IncSent()
	c.IncSent()
	c.IncReceived()
	assert.Equal(t, uint64(2), c.Sent())
	assert.Equal(t, uint64(1), c.Received())
}
