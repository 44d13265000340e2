package db

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/model"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"postgres://u:p@db:5432/bus?sslmode=disable", "postgres://u:p@db:5432/bus?sslmode=disable", false},
		{"postgresql://u@db/bus", "postgres://u@db/bus", false},
		{"u@db/bus", "postgres://u@db/bus", false},
		{"mysql://u@db/bus", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := MigrationURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestTripRowRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	arrived := start.Add(10 * time.Minute)

	atStop := model.Trip{
		ID: "b_2026-03-02", BusID: "b", DriverID: "d", StartedAt: start,
		Status: model.AtStop, CurrentStopID: "S", StopArrivedAt: &arrived,
		Location: &model.Location{Lat: 40.1, Lon: -73.2, Geohash: "dr5ru2d", UpdatedAt: arrived},
	}
	r := toTripRow(atStop)
	assert.True(t, r.CurrentStopID.Valid)
	assert.True(t, r.StopArrivedAt.Valid)
	assert.False(t, r.EndedAt.Valid)
	assert.Equal(t, atStop, r.trip())

	moving := model.Trip{ID: "b_2026-03-02", BusID: "b", DriverID: "d", StartedAt: start, Status: model.InTransit,
		LastDepartedStopID: "S", ClearOfLastStop: true}
	r = toTripRow(moving)
	assert.True(t, r.LastDepartedStopID.Valid)
	assert.False(t, r.CurrentStopID.Valid)
	assert.False(t, r.StopArrivedAt.Valid)
	assert.False(t, r.Lat.Valid)
	assert.Equal(t, moving, r.trip())
	assert.Len(t, r.args(), 14)
}

func TestMigrationsEmbedded(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
