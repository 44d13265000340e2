// Package route loads the published route (stops and rider roster) that a bus
// runs each day.
package route

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-wait-tracker/internal/model"
)

// Route is an immutable route with lookups by stop and rider.
type Route struct {
	model.Route

	stopIdx  map[string]int
	riderIdx map[string]int
	byStop   map[string][]model.Rider
}

// Load reads and validates a route file.
func Load(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML route document.
func Parse(data []byte) (*Route, error) {
	var r model.Route
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse route: %w", err)
	}
	return New(r)
}

// New validates r and builds its indexes.
func New(r model.Route) (*Route, error) {
	v := validator.New()
	if err := v.Struct(r); err != nil {
		return nil, fmt.Errorf("invalid route: %w", err)
	}
	out := &Route{
		Route:    r,
		stopIdx:  make(map[string]int, len(r.Stops)),
		riderIdx: make(map[string]int, len(r.Riders)),
		byStop:   make(map[string][]model.Rider),
	}
	for i, s := range r.Stops {
		out.stopIdx[s.ID] = i
	}
	for i, rd := range r.Riders {
		if _, ok := out.stopIdx[rd.StopID]; !ok {
			return nil, fmt.Errorf("invalid route: rider %q assigned to unknown stop %q", rd.ID, rd.StopID)
		}
		out.riderIdx[rd.ID] = i
		out.byStop[rd.StopID] = append(out.byStop[rd.StopID], rd)
	}
	return out, nil
}

func (r *Route) Stop(id string) (model.RouteStop, bool) {
	i, ok := r.stopIdx[id]
	if !ok {
		return model.RouteStop{}, false
	}
	return r.Stops[i], true
}

func (r *Route) Rider(id string) (model.Rider, bool) {
	i, ok := r.riderIdx[id]
	if !ok {
		return model.Rider{}, false
	}
	return r.Riders[i], true
}

// RidersAt returns the roster of a stop.
func (r *Route) RidersAt(stopID string) []model.Rider {
	return r.byStop[stopID]
}

// NextStopID returns the stop after current, or "" at the end of the route.
func (r *Route) NextStopID(current string) string {
	i, ok := r.stopIdx[current]
	if !ok || i+1 >= len(r.Stops) {
		return ""
	}
	return r.Stops[i+1].ID
}
