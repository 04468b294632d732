package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regspy/regspy/internal/config"
)

func TestBuildDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := buildDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./regspy.db"}

		dsn, err := buildDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./regspy.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := buildDSN(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		dsn, err := buildDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestIsStale(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		lastUpdated time.Time
		stale       bool
	}{
		{"JustWritten", now, false},
		{"TwentyThreeHours59m", now.Add(-23*time.Hour - 59*time.Minute), false},
		{"ExactlyOneDay", now.Add(-24 * time.Hour), true},
		{"OneDayOneSecond", now.Add(-24*time.Hour - time.Second), true},
		{"SeveralDays", now.Add(-72 * time.Hour), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.stale, isStale(tc.lastUpdated, now, defaultStaleAfterDays))
		})
	}

	t.Run("LongerWindow", func(t *testing.T) {
		require.False(t, isStale(now.Add(-40*time.Hour), now, 2))
		require.True(t, isStale(now.Add(-49*time.Hour), now, 2))
	})
}
