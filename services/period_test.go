package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodClockWeekly(t *testing.T) {
	clock, err := NewPeriodClock("0 0 * * 1")
	require.NoError(t, err)

	// 2026-10-14 is a Wednesday; the period closes Monday 2026-10-19.
	wed := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	sun := time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC)
	mon := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-10-19T00:00Z", clock.KeyAt(wed))
	assert.Equal(t, clock.KeyAt(wed), clock.KeyAt(sun))
	assert.Equal(t, "2026-10-26T00:00Z", clock.KeyAt(mon))
}

func TestPeriodClockNormalizesZone(t *testing.T) {
	clock, err := NewPeriodClock("@daily")
	require.NoError(t, err)

	tokyo := time.FixedZone("JST", 9*60*60)
	local := time.Date(2026, 10, 15, 8, 0, 0, 0, tokyo) // 23:00 UTC on the 14th
	assert.Equal(t, "2026-10-15T00:00Z", clock.KeyAt(local))
}

func TestPeriodClockCurrent(t *testing.T) {
	clock, err := NewPeriodClock("@daily")
	require.NoError(t, err)
	clock.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }

	assert.Equal(t, "2026-10-15T00:00Z", clock.Current())
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), clock.ResetsAt())
}

func TestPeriodClockInvalid(t *testing.T) {
	_, err := NewPeriodClock("every tuesday")
	assert.Error(t, err)
}
