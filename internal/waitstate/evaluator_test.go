package waitstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/model"
)

var t0 = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)

func stopS() model.RouteStop {
	return model.RouteStop{ID: "S", Name: "Elm & 3rd", Lat: 40.1, Lon: -74.2, ScheduledTime: "07:30"}
}

func roster(ids ...string) []model.Rider {
	out := make([]model.Rider, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Rider{ID: id, StopID: "S"})
	}
	return out
}

func atStop(stopID string, arrived time.Time) *model.Trip {
	return &model.Trip{
		ID:            "bus1_2026-03-02",
		BusID:         "bus1",
		Status:        model.AtStop,
		CurrentStopID: stopID,
		StopArrivedAt: &arrived,
	}
}

func inTransit() *model.Trip {
	return &model.Trip{ID: "bus1_2026-03-02", BusID: "bus1", Status: model.InTransit}
}

func absent(tripID string, riders ...string) []model.Absence {
	var out []model.Absence
	for _, r := range riders {
		out = append(out, model.Absence{TripID: tripID, RiderID: r, StopID: "S", CreatedAt: t0})
	}
	return out
}

func waitAt(tripID, rider string, at time.Time) model.WaitRequest {
	return model.WaitRequest{TripID: tripID, RiderID: rider, StopID: "S", CreatedAt: at}
}

func TestEvaluate_AllAbsentOverridesEverything(t *testing.T) {
	trips := map[string]*model.Trip{
		"nil trip":        nil,
		"in transit":      inTransit(),
		"at stop fresh":   atStop("S", t0),
		"at stop expired": atStop("S", t0.Add(-time.Hour)),
		"at other stop":   atStop("T", t0),
	}
	for name, trip := range trips {
		t.Run(name, func(t *testing.T) {
			tripID := "bus1_2026-03-02"
			waits := []model.WaitRequest{waitAt(tripID, "a", t0)}
			st := Evaluate(stopS(), trip, roster("a", "b"), absent(tripID, "a", "b"), waits, t0.Add(10*time.Second))
			assert.Equal(t, AllAbsent, st.State)
			assert.True(t, st.AllAbsent)
			assert.Equal(t, 2, st.AbsentCount)
			assert.Equal(t, 2, st.TotalPassengers)
			assert.Nil(t, st.RemainingSeconds)
		})
	}
}

func TestEvaluate_EmptyRosterNeverAllAbsent(t *testing.T) {
	st := Evaluate(stopS(), inTransit(), nil, nil, nil, t0)
	assert.Equal(t, Clear, st.State)
	assert.False(t, st.AllAbsent)
	assert.Zero(t, st.TotalPassengers)
}

func TestEvaluate_NotAtThisStopIsClear(t *testing.T) {
	tests := []struct {
		name string
		trip *model.Trip
	}{
		{"nil trip", nil},
		{"in transit", inTransit()},
		{"at another stop", atStop("T", t0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Evaluate(stopS(), tt.trip, roster("a"), nil, nil, t0.Add(5*time.Second))
			assert.Equal(t, Clear, st.State)
			assert.Nil(t, st.ElapsedSeconds)
			assert.Zero(t, st.WaitRequestCount)
		})
	}
}

func TestEvaluate_MissingArrivalIsClear(t *testing.T) {
	trip := atStop("S", t0)
	trip.StopArrivedAt = nil
	st := Evaluate(stopS(), trip, roster("a"), nil, nil, t0)
	assert.Equal(t, Clear, st.State)
	assert.Nil(t, st.ElapsedSeconds)
}

func TestEvaluate_WindowBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		elapsed int64
		waits   int
		want    State
		remain  *int64
	}{
		{"arrival", 0, 0, StandardWait, ptr(300)},
		{"standard inclusive", 300, 0, StandardWait, ptr(0)},
		{"past standard no waits", 301, 0, Clear, nil},
		{"past standard with wait", 301, 1, ExtendedWait, ptr(119)},
		{"extended inclusive", 420, 1, ExtendedWait, ptr(0)},
		{"past extended", 421, 1, Clear, nil},
		{"past extended many waits", 421, 3, Clear, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trip := atStop("S", t0)
			var waits []model.WaitRequest
			for i := 0; i < tt.waits; i++ {
				waits = append(waits, waitAt(trip.ID, string(rune('a'+i)), t0))
			}
			st := Evaluate(stopS(), trip, roster("a", "b", "c", "d"), nil, waits, t0.Add(time.Duration(tt.elapsed)*time.Second))
			assert.Equal(t, tt.want, st.State)
			require.NotNil(t, st.ElapsedSeconds)
			assert.Equal(t, tt.elapsed, *st.ElapsedSeconds)
			assert.Equal(t, tt.waits, st.WaitRequestCount)
			assert.Equal(t, tt.remain, st.RemainingSeconds)
		})
	}
}

func TestEvaluate_SubSecondTruncates(t *testing.T) {
	trip := atStop("S", t0)
	st := Evaluate(stopS(), trip, roster("a"), nil, nil, t0.Add(300*time.Second+999*time.Millisecond))
	assert.Equal(t, StandardWait, st.State)
	assert.Equal(t, int64(300), *st.ElapsedSeconds)
}

func TestEvaluate_StaleWaitRequestsIgnored(t *testing.T) {
	trip := atStop("S", t0)
	waits := []model.WaitRequest{
		waitAt(trip.ID, "a", t0.Add(-10*time.Minute)), // earlier visit
		waitAt("bus1_2026-03-01", "b", t0),            // another day
		{TripID: trip.ID, RiderID: "c", StopID: "T", CreatedAt: t0},
	}
	st := Evaluate(stopS(), trip, roster("a", "b", "c"), nil, waits, t0.Add(350*time.Second))
	assert.Equal(t, Clear, st.State)
	assert.Zero(t, st.WaitRequestCount)
}

func TestEvaluate_DuplicateRecordsCountOnce(t *testing.T) {
	trip := atStop("S", t0)
	waits := []model.WaitRequest{waitAt(trip.ID, "a", t0), waitAt(trip.ID, "a", t0.Add(time.Second))}
	abs := append(absent(trip.ID, "b"), absent(trip.ID, "b")...)
	st := Evaluate(stopS(), trip, roster("a", "b"), abs, waits, t0)
	assert.Equal(t, 1, st.WaitRequestCount)
	assert.Equal(t, 1, st.AbsentCount)
	assert.Equal(t, StandardWait, st.State)
}

func TestEvaluate_AbsenceOutsideRosterIgnored(t *testing.T) {
	trip := atStop("S", t0)
	st := Evaluate(stopS(), trip, roster("a"), absent(trip.ID, "zed"), nil, t0)
	assert.Zero(t, st.AbsentCount)
	assert.Equal(t, StandardWait, st.State)
}

func TestEvaluate_Deterministic(t *testing.T) {
	trip := atStop("S", t0)
	waits := []model.WaitRequest{waitAt(trip.ID, "a", t0)}
	now := t0.Add(333 * time.Second)
	first := Evaluate(stopS(), trip, roster("a", "b"), absent(trip.ID, "b"), waits, now)
	second := Evaluate(stopS(), trip, roster("a", "b"), absent(trip.ID, "b"), waits, now)
	assert.Equal(t, first, second)
}

func TestScenario_WaitRequestExtendsThenLapses(t *testing.T) {
	trip := atStop("S", t0)
	waits := []model.WaitRequest{waitAt(trip.ID, "a", t0.Add(250*time.Second))}
	r := roster("a", "b")

	st := Evaluate(stopS(), trip, r, nil, waits, t0.Add(250*time.Second))
	assert.Equal(t, StandardWait, st.State)
	assert.Equal(t, 1, st.WaitRequestCount)

	st = Evaluate(stopS(), trip, r, nil, waits, t0.Add(400*time.Second))
	assert.Equal(t, ExtendedWait, st.State)

	st = Evaluate(stopS(), trip, r, nil, waits, t0.Add(430*time.Second))
	assert.Equal(t, Clear, st.State)
	assert.Equal(t, 1, st.WaitRequestCount)
}

func TestScenario_PartialThenFullAbsence(t *testing.T) {
	trip := inTransit()
	r := roster("a", "b", "c")

	st := Evaluate(stopS(), trip, r, absent(trip.ID, "a", "b"), nil, t0)
	assert.NotEqual(t, AllAbsent, st.State)
	assert.False(t, st.AllAbsent)
	assert.Equal(t, 2, st.AbsentCount)
	assert.Equal(t, 3, st.TotalPassengers)

	st = Evaluate(stopS(), trip, r, absent(trip.ID, "a", "b", "c"), nil, t0)
	assert.Equal(t, AllAbsent, st.State)
	assert.True(t, st.AllAbsent)
}

func ptr(v int64) *int64 { return &v }
