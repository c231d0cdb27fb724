package clock_test

import (
	"testing"
	"time"

	"loyalty/util/clock"

	"github.com/stretchr/testify/require"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	require.Equal(t, start, c.Now())

	c.Advance(90 * time.Minute)
	require.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	require.Equal(t, start, c.Now())
}

func TestSystem_IsUTC(t *testing.T) {
	require.Equal(t, time.UTC, clock.System().Now().Location())
}
