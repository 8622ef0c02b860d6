package calendar

import (
	"testing"
	"time"

	"github.com/senseyeio/duration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftSkipsWeekend(t *testing.T) {
	// given
	cal := NewWeekly()
	wednesday := time.Date(2012, 2, 1, 12, 0, 0, 0, time.UTC)
	d, err := duration.ParseISO8601("P3D")
	require.NoError(t, err)

	// when
	result := cal.Shift(wednesday, d)

	// then
	assert.Equal(t, time.Date(2012, 2, 6, 12, 0, 0, 0, time.UTC), result)
}

func TestShiftSkipsHolidays(t *testing.T) {
	// given
	cal := NewWeekly(time.Date(2012, 2, 2, 0, 0, 0, 0, time.UTC))
	wednesday := time.Date(2012, 2, 1, 12, 0, 0, 0, time.UTC)
	d, err := duration.ParseISO8601("P1D")
	require.NoError(t, err)

	// when
	result := cal.Shift(wednesday, d)

	// then
	assert.Equal(t, time.Date(2012, 2, 3, 12, 0, 0, 0, time.UTC), result)
}

func TestShiftMovesTimeBasedResultToWorkingDay(t *testing.T) {
	// given
	cal := NewWeekly()
	friday := time.Date(2012, 2, 3, 20, 0, 0, 0, time.UTC)
	d, err := duration.ParseISO8601("PT6H")
	require.NoError(t, err)

	// when
	result := cal.Shift(friday, d)

	// then
	assert.Equal(t, time.Date(2012, 2, 6, 2, 0, 0, 0, time.UTC), result)
}
