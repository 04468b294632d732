package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAdmit(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AdmitsUpToMax", func(t *testing.T) {
		now := base
		l := New(60*time.Second, 10)
		l.Clock = func() time.Time { return now }

		for i := 0; i < 10; i++ {
			now = now.Add(time.Second)
			require.True(t, l.Admit("203.0.113.7"), "request %d should be admitted", i+1)
		}

		now = now.Add(time.Second)
		require.False(t, l.Admit("203.0.113.7"), "11th request inside the window should be rejected")
	})

	t.Run("WindowSlides", func(t *testing.T) {
		now := base
		l := New(60*time.Second, 2)
		l.Clock = func() time.Time { return now }

		require.True(t, l.Admit("client"))
		require.True(t, l.Admit("client"))
		require.False(t, l.Admit("client"))

		// All three attempts (including the rejected one) expire together.
		now = now.Add(61 * time.Second)
		require.True(t, l.Admit("client"))
	})

	t.Run("RejectedAttemptsCountAgainstWindow", func(t *testing.T) {
		now := base
		l := New(60*time.Second, 1)
		l.Clock = func() time.Time { return now }

		require.True(t, l.Admit("client"))
		now = now.Add(59 * time.Second)
		require.False(t, l.Admit("client"))

		// The first admission has aged out, but the rejected attempt at
		// +59s is still in the window.
		now = now.Add(2 * time.Second)
		require.False(t, l.Admit("client"))
	})

	t.Run("ClientsIsolated", func(t *testing.T) {
		now := base
		l := New(60*time.Second, 1)
		l.Clock = func() time.Time { return now }

		require.True(t, l.Admit("a"))
		require.True(t, l.Admit("b"))
		require.False(t, l.Admit("a"))
	})

	t.Run("Pending", func(t *testing.T) {
		now := base
		l := New(60*time.Second, 5)
		l.Clock = func() time.Time { return now }

		require.Equal(t, 0, l.Pending("client"))
		l.Admit("client")
		l.Admit("client")
		require.Equal(t, 2, l.Pending("client"))
	})
}

func TestLimiterConcurrentAdmit(t *testing.T) {
	l := New(time.Minute, 50)

	var wg sync.WaitGroup
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.Admit("shared")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	require.Equal(t, 50, count)
}
