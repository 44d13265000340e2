package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/store/storetest"
)

func TestKeys(t *testing.T) {
	r := &Redis{prefix: "bus"}
	assert.Equal(t, "bus:trip:b_2026-03-02", r.tripKey("b_2026-03-02"))
	assert.Equal(t, "bus:trips:active", r.activeKey())
	assert.Equal(t, "bus:trip:b_2026-03-02:absences", r.absenceKey("b_2026-03-02"))
	assert.Equal(t, "bus:trip:b_2026-03-02:waits:elm-3rd", r.waitKey("b_2026-03-02", "elm-3rd"))
}

func newMiniRedis(t *testing.T, prefix string) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), mr.Addr(), "", 0, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		r, _ := newMiniRedis(t, "test")
		return r
	})
}

func TestRedis_DefaultPrefix(t *testing.T) {
	r, mr := newMiniRedis(t, "")
	tr := model.Trip{ID: "bus-12_2026-03-02", BusID: "bus-12", StartedAt: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), Status: model.InTransit}
	_, created, err := r.CreateTrip(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, created)

	assert.True(t, mr.Exists("buswait:trip:bus-12_2026-03-02"))
	members, err := mr.Members("buswait:trips:active")
	require.NoError(t, err)
	assert.Equal(t, []string{tr.ID}, members)
}

func TestRedis_EndedTripLeavesActiveSet(t *testing.T) {
	ctx := context.Background()
	r, mr := newMiniRedis(t, "bus")
	tr := model.Trip{ID: "bus-12_2026-03-02", BusID: "bus-12", StartedAt: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), Status: model.InTransit}
	_, _, err := r.CreateTrip(ctx, tr)
	require.NoError(t, err)

	ended := tr.StartedAt.Add(time.Hour)
	tr.EndedAt = &ended
	require.NoError(t, r.UpdateTrip(ctx, tr))
	ok, err := mr.SIsMember(r.activeKey(), tr.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
