package assistant

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Runs(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32

	assert.True(t, s.Schedule("a", 10*time.Millisecond, func() { ran.Add(1) }))
	assert.True(t, s.Pending("a"))
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Pending("a"))
}

func TestScheduler_ReplaceKeepsLatest(t *testing.T) {
	s := NewScheduler()
	var first, second atomic.Int32

	s.Schedule("a", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("a", 20*time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32

	s.Schedule("a", 20*time.Millisecond, func() { ran.Add(1) })
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, ran.Load())
}

func TestScheduler_CloseCancelsAll(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32

	s.Schedule("a", 20*time.Millisecond, func() { ran.Add(1) })
	s.Schedule("b", 20*time.Millisecond, func() { ran.Add(1) })
	s.Close()

	assert.False(t, s.Schedule("c", time.Millisecond, func() { ran.Add(1) }))
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, ran.Load())
}

func TestScheduler_FlushRunsPendingNow(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32

	s.Schedule("a", time.Hour, func() { ran.Add(1) })
	assert.True(t, s.Flush("a"))
	assert.False(t, s.Pending("a"))
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Flush("a"))
	assert.False(t, s.Flush("missing"))
	assert.Equal(t, int32(1), ran.Load())
}
