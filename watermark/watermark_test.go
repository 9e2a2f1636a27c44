package watermark

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestPolicy_NothingLateBeforeFirstObservation(t *testing.T) {
	p := New(2 * time.Minute)

	_, ok := p.Current()
	assert.False(t, ok)
	assert.False(t, p.IsLate(base.Add(-24*time.Hour)))
}

func TestPolicy_LateArrivalScenario(t *testing.T) {
	p := New(2 * time.Minute)

	p.Observe(base)
	wm, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, base.Add(-2*time.Minute), wm)

	p.Observe(base.Add(30 * time.Second))
	wm, _ = p.Current()
	assert.Equal(t, base.Add(-90*time.Second), wm)

	assert.True(t, p.IsLate(base.Add(-150*time.Second)))
	assert.False(t, p.IsLate(base.Add(-90*time.Second)), "equal to watermark is not late")
	assert.False(t, p.IsLate(base.Add(-60*time.Second)))
}

func TestPolicy_Monotonic(t *testing.T) {
	p := New(time.Minute)

	times := []time.Duration{0, 5 * time.Minute, -10 * time.Minute, 3 * time.Minute, 6 * time.Minute, -time.Hour}
	var last time.Time
	for i, d := range times {
		p.Observe(base.Add(d))
		wm, _ := p.Current()
		if i > 0 {
			assert.False(t, wm.Before(last), "watermark regressed at step %d", i)
		}
		last = wm
	}
	assert.Equal(t, base.Add(5*time.Minute), last)
}

func TestPolicy_Restore(t *testing.T) {
	p := New(2 * time.Minute)

	p.Restore(time.Time{})
	_, ok := p.Current()
	assert.False(t, ok)

	p.Restore(base)
	wm, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, base, wm)

	// Restore and Observe never move the watermark back.
	p.Restore(base.Add(-time.Hour))
	p.Observe(base)
	wm, _ = p.Current()
	assert.Equal(t, base, wm)
	assert.True(t, p.IsLate(base.Add(-time.Second)))
}

func TestPolicy_ConcurrentReaders(t *testing.T) {
	p := New(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				p.IsLate(base)
				p.Current()
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		p.Observe(base.Add(time.Duration(j) * time.Millisecond))
	}
	wg.Wait()

	wm, _ := p.Current()
	assert.Equal(t, base.Add(999*time.Millisecond-time.Second), wm)
}

func TestPolicy_NegativeLatenessClamped(t *testing.T) {
	p := New(-time.Minute)
	assert.Equal(t, time.Duration(0), p.AllowedLateness())
}
