package store

import (
	"context"
	"sort"
	"sync"

	"bus-wait-tracker/internal/model"
)

type waitKey struct{ trip, rider, stop string }
type absenceKey struct{ trip, rider string }

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu       sync.RWMutex
	trips    map[string]model.Trip
	waits    map[waitKey]model.WaitRequest
	absences map[absenceKey]model.Absence
}

func NewMemory() *Memory {
	return &Memory{
		trips:    make(map[string]model.Trip),
		waits:    make(map[waitKey]model.WaitRequest),
		absences: make(map[absenceKey]model.Absence),
	}
}

func (m *Memory) CreateTrip(_ context.Context, t model.Trip) (model.Trip, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.trips[t.ID]; ok {
		return existing, false, nil
	}
	m.trips[t.ID] = t
	return t, true, nil
}

func (m *Memory) GetTrip(_ context.Context, tripID string) (model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[tripID]
	if !ok {
		return model.Trip{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpdateTrip(_ context.Context, t model.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return ErrNotFound
	}
	m.trips[t.ID] = t
	return nil
}

func (m *Memory) ListActiveTrips(_ context.Context) ([]model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Trip
	for _, t := range m.trips {
		if t.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutWaitRequest(_ context.Context, w model.WaitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := waitKey{w.TripID, w.RiderID, w.StopID}
	if _, ok := m.waits[k]; ok {
		return ErrDuplicate
	}
	m.waits[k] = w
	return nil
}

func (m *Memory) ListWaitRequests(_ context.Context, tripID, stopID string) ([]model.WaitRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WaitRequest
	for k, w := range m.waits {
		if k.trip == tripID && k.stop == stopID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutAbsence(_ context.Context, a model.Absence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := absenceKey{a.TripID, a.RiderID}
	if _, ok := m.absences[k]; ok {
		return ErrDuplicate
	}
	m.absences[k] = a
	return nil
}

func (m *Memory) GetAbsence(_ context.Context, tripID, riderID string) (model.Absence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.absences[absenceKey{tripID, riderID}]
	if !ok {
		return model.Absence{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAbsences(_ context.Context, tripID, stopID string) ([]model.Absence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Absence
	for k, a := range m.absences {
		if k.trip == tripID && a.StopID == stopID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
