package waitstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsedSeconds(t *testing.T) {
	arrived := t0

	e, ok := ElapsedSeconds(&arrived, t0.Add(90*time.Second+400*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, int64(90), e)

	_, ok = ElapsedSeconds(nil, t0)
	assert.False(t, ok)

	zero := time.Time{}
	_, ok = ElapsedSeconds(&zero, t0)
	assert.False(t, ok)

	e, ok = ElapsedSeconds(&arrived, t0.Add(-5*time.Second))
	assert.True(t, ok)
	assert.Zero(t, e)
}

func TestRemainingSeconds(t *testing.T) {
	tests := []struct {
		state   State
		elapsed int64
		want    int64
		ok      bool
	}{
		{StandardWait, 0, 300, true},
		{StandardWait, 120, 180, true},
		{ExtendedWait, 301, 119, true},
		{ExtendedWait, 500, 0, true},
		{Clear, 10, 0, false},
		{AllAbsent, 10, 0, false},
	}
	for _, tt := range tests {
		got, ok := RemainingSeconds(tt.state, tt.elapsed)
		assert.Equal(t, tt.ok, ok, "%s/%d", tt.state, tt.elapsed)
		assert.Equal(t, tt.want, got, "%s/%d", tt.state, tt.elapsed)
	}
}

func TestTripID(t *testing.T) {
	morning := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "bus7_2026-03-02", TripID("bus7", morning))
	assert.Equal(t, TripID("bus7", morning), TripID("bus7", evening))
	assert.NotEqual(t, TripID("bus7", morning), TripID("bus7", morning.AddDate(0, 0, 1)))
	assert.NotEqual(t, TripID("bus7", morning), TripID("bus8", morning))

	ny, err := time.LoadLocation("America/New_York")
	if err == nil {
		// 02:00 UTC on the 3rd is still the 2nd in New York.
		late := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC).In(ny)
		assert.Equal(t, "bus7_2026-03-02", TripID("bus7", late))
	}
}
