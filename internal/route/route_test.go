package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	r, err := Load("testdata/route.yaml")
	require.NoError(t, err)

	assert.Equal(t, "bus-12", r.BusID)
	require.Len(t, r.Stops, 3)

	s, ok := r.Stop("oak-park")
	require.True(t, ok)
	assert.Equal(t, "Oak Park Gate", s.Name)
	assert.Equal(t, "07:12", s.ScheduledTime)

	assert.Len(t, r.RidersAt("elm-3rd"), 2)
	assert.Len(t, r.RidersAt("oak-park"), 1)
	assert.Empty(t, r.RidersAt("lincoln-hs"))

	rd, ok := r.Rider("r-chi")
	require.True(t, ok)
	assert.Equal(t, "oak-park", rd.StopID)

	assert.Equal(t, "oak-park", r.NextStopID("elm-3rd"))
	assert.Equal(t, "", r.NextStopID("lincoln-hs"))
	assert.Equal(t, "", r.NextStopID("nowhere"))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "id: [[["},
		{"no stops", "id: r\nbus_id: b\n"},
		{"missing bus", "id: r\nstops:\n  - {id: a, name: A, lat: 1, lon: 1}\n"},
		{"bad latitude", "id: r\nbus_id: b\nstops:\n  - {id: a, name: A, lat: 95, lon: 1}\n"},
		{"bad time", "id: r\nbus_id: b\nstops:\n  - {id: a, name: A, lat: 1, lon: 1, scheduled_time: \"7am\"}\n"},
		{"duplicate stop", "id: r\nbus_id: b\nstops:\n  - {id: a, name: A, lat: 1, lon: 1}\n  - {id: a, name: B, lat: 2, lon: 2}\n"},
		{"rider at unknown stop", "id: r\nbus_id: b\nstops:\n  - {id: a, name: A, lat: 1, lon: 1}\nriders:\n  - {id: x, stop_id: zz}\n"},
		{"duplicate rider", "id: r\nbus_id: b\nstops:\n  - {id: a, name: A, lat: 1, lon: 1}\nriders:\n  - {id: x, stop_id: a}\n  - {id: x, stop_id: a}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}
