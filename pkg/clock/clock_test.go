package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAutoAdvance(t *testing.T) {
	c := Fake(epoch)

	<-c.After(time.Second)
	<-c.After(2 * time.Second)

	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
	assert.Zero(t, c.Pending())
}

func TestManualFiresOnAdvance(t *testing.T) {
	c := Manual(epoch)
	ch := c.After(time.Minute)
	require.Equal(t, 1, c.Pending())

	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, epoch.Add(time.Minute), at)
	default:
		t.Fatal("expected waiter to fire")
	}
	assert.Zero(t, c.Pending())
}

func TestAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Manual(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("expected immediate fire for zero duration")
	}
}
