// Package storetest is a behavioural suite every store.Store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/store"
)

var day = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

// Run exercises a backend. newStore is called once per case; backends that
// share state between calls still pass because every case uses its own trips.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateTripIsIdempotent", testCreateTripIsIdempotent},
		{"MissingTrip", testMissingTrip},
		{"TripRoundTrip", testTripRoundTrip},
		{"ActiveTrips", testActiveTrips},
		{"WaitRequestsKeyedPerRiderAndStop", testWaitRequestsKeyedPerRiderAndStop},
		{"AbsenceOncePerTrip", testAbsenceOncePerTrip},
		{"AbsencesFilteredByStop", testAbsencesFilteredByStop},
		{"ConcurrentRidersDoNotCollide", testConcurrentRidersDoNotCollide},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newStore(t))
		})
	}
}

func newTrip(t *testing.T, s store.Store) model.Trip {
	t.Helper()
	tr := model.Trip{
		ID:        "bus-" + uuid.NewString()[:8] + "_2026-03-02",
		DriverID:  "d-1",
		StartedAt: day,
		Status:    model.InTransit,
	}
	tr.BusID = tr.ID[:len(tr.ID)-len("_2026-03-02")]
	_, created, err := s.CreateTrip(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, created)
	return tr
}

func testCreateTripIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newTrip(t, s)

	second := first
	second.DriverID = "d-2"
	got, created, err := s.CreateTrip(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "d-1", got.DriverID)
	assert.True(t, got.StartedAt.Equal(first.StartedAt))
}

func testMissingTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetTrip(ctx, "nope_"+uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = s.UpdateTrip(ctx, model.Trip{ID: "nope_" + uuid.NewString(), StartedAt: day, Status: model.InTransit})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTripRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	tr := newTrip(t, s)

	arrived := day.Add(10 * time.Minute)
	tr.Status = model.AtStop
	tr.CurrentStopID = "elm-3rd"
	tr.StopArrivedAt = &arrived
	tr.Location = &model.Location{Lat: 40.7411, Lon: -73.9897, Geohash: "dr5ru6j", UpdatedAt: arrived}
	require.NoError(t, s.UpdateTrip(ctx, tr))

	got, err := s.GetTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, normalize(tr), normalize(got))

	tr.Status = model.InTransit
	tr.CurrentStopID = ""
	tr.StopArrivedAt = nil
	tr.LastDepartedStopID = "elm-3rd"
	tr.ClearOfLastStop = true
	require.NoError(t, s.UpdateTrip(ctx, tr))

	got, err = s.GetTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, normalize(tr), normalize(got))
}

func testActiveTrips(t *testing.T, s store.Store) {
	ctx := context.Background()
	running := newTrip(t, s)
	finished := newTrip(t, s)

	ended := day.Add(time.Hour)
	finished.EndedAt = &ended
	require.NoError(t, s.UpdateTrip(ctx, finished))

	active, err := s.ListActiveTrips(ctx)
	require.NoError(t, err)
	ids := tripIDs(active)
	assert.Contains(t, ids, running.ID)
	assert.NotContains(t, ids, finished.ID)

	got, err := s.GetTrip(ctx, finished.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
}

func testWaitRequestsKeyedPerRiderAndStop(t *testing.T, s store.Store) {
	ctx := context.Background()
	tr := newTrip(t, s)

	w := model.WaitRequest{ID: uuid.NewString(), TripID: tr.ID, RiderID: "r1", StopID: "S", CreatedAt: day}
	require.NoError(t, s.PutWaitRequest(ctx, w))
	dup := w
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.PutWaitRequest(ctx, dup), store.ErrDuplicate)

	other := model.WaitRequest{ID: uuid.NewString(), TripID: tr.ID, RiderID: "r1", StopID: "T", CreatedAt: day}
	require.NoError(t, s.PutWaitRequest(ctx, other))
	second := model.WaitRequest{ID: uuid.NewString(), TripID: tr.ID, RiderID: "r2", StopID: "S", CreatedAt: day.Add(time.Second)}
	require.NoError(t, s.PutWaitRequest(ctx, second))

	got, err := s.ListWaitRequests(ctx, tr.ID, "S")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, w.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.True(t, got[1].CreatedAt.Equal(second.CreatedAt))

	got, err = s.ListWaitRequests(ctx, tr.ID, "T")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RiderID)

	got, err = s.ListWaitRequests(ctx, tr.ID, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testAbsenceOncePerTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	tr := newTrip(t, s)

	_, err := s.GetAbsence(ctx, tr.ID, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	a := model.Absence{ID: uuid.NewString(), TripID: tr.ID, RiderID: "r1", StopID: "S", CreatedAt: day}
	require.NoError(t, s.PutAbsence(ctx, a))
	again := a
	again.ID, again.StopID = uuid.NewString(), "T"
	assert.ErrorIs(t, s.PutAbsence(ctx, again), store.ErrDuplicate)

	got, err := s.GetAbsence(ctx, tr.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "S", got.StopID)
	assert.True(t, got.CreatedAt.Equal(day))
}

func testAbsencesFilteredByStop(t *testing.T, s store.Store) {
	ctx := context.Background()
	tr := newTrip(t, s)
	other := newTrip(t, s)

	for i, rider := range []string{"r1", "r2"} {
		a := model.Absence{ID: uuid.NewString(), TripID: tr.ID, RiderID: rider, StopID: "S", CreatedAt: day.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.PutAbsence(ctx, a))
	}
	require.NoError(t, s.PutAbsence(ctx, model.Absence{ID: uuid.NewString(), TripID: tr.ID, RiderID: "r3", StopID: "T", CreatedAt: day}))
	require.NoError(t, s.PutAbsence(ctx, model.Absence{ID: uuid.NewString(), TripID: other.ID, RiderID: "r1", StopID: "S", CreatedAt: day}))

	list, err := s.ListAbsences(ctx, tr.ID, "S")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].RiderID)
	assert.Equal(t, "r2", list[1].RiderID)

	list, err = s.ListAbsences(ctx, tr.ID, "T")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListAbsences(ctx, other.ID, "T")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testConcurrentRidersDoNotCollide(t *testing.T, s store.Store) {
	ctx := context.Background()
	tr := newTrip(t, s)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dups int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rider := fmt.Sprintf("r%d", i%20)
			err := s.PutAbsence(ctx, model.Absence{ID: uuid.NewString(), TripID: tr.ID, RiderID: rider, StopID: "S", CreatedAt: day})
			if err == nil {
				err = s.PutWaitRequest(ctx, model.WaitRequest{ID: uuid.NewString(), TripID: tr.ID, RiderID: rider, StopID: "T", CreatedAt: day})
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, store.ErrDuplicate)
			mu.Lock()
			dups++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	absences, err := s.ListAbsences(ctx, tr.ID, "S")
	require.NoError(t, err)
	assert.Len(t, absences, 20)
	assert.Equal(t, 20, dups)

	waits, err := s.ListWaitRequests(ctx, tr.ID, "T")
	require.NoError(t, err)
	assert.Len(t, waits, 20)
}

func tripIDs(trips []model.Trip) []string {
	ids := make([]string, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.ID)
	}
	return ids
}

// normalize puts every timestamp in UTC so trips read back from a backend
// compare equal to the ones written.
func normalize(t model.Trip) model.Trip {
	t.StartedAt = t.StartedAt.UTC()
	if t.EndedAt != nil {
		e := t.EndedAt.UTC()
		t.EndedAt = &e
	}
	if t.StopArrivedAt != nil {
		a := t.StopArrivedAt.UTC()
		t.StopArrivedAt = &a
	}
	if t.Location != nil {
		l := *t.Location
		l.UpdatedAt = l.UpdatedAt.UTC()
		t.Location = &l
	}
	return t
}
