package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)
	assert.Equal(t, start, fc.Now())

	ch := fc.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before deadline")
	default:
	}

	fc.Advance(5 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(5*time.Second), got)
	default:
		t.Fatal("waiter did not fire at deadline")
	}
	assert.Equal(t, start.Add(5*time.Second), fc.Now())
}

func TestFakeAfterZeroOrNegativeFiresImmediately(t *testing.T) {
	fc := NewFake(time.Now())
	ch := fc.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero duration After should fire immediately")
	}
}

func TestRealClockAdvances(t *testing.T) {
	rc := Real()
	t1 := rc.Now()
	<-rc.After(time.Millisecond)
	require.True(t, rc.Now().After(t1) || rc.Now().Equal(t1))
}
