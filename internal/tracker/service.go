// Package tracker applies driver and rider actions to trip records and
// re-derives stop states for everyone watching the trip.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	mmetrics "bus-wait-tracker/internal/metrics"
	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/route"
	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/waitstate"
)

var (
	ErrTripEnded    = errors.New("trip has ended")
	ErrUnknownStop  = errors.New("stop is not on the route")
	ErrUnknownRider = errors.New("rider is not on the roster")
)

const (
	sourceDriver   = "driver"
	sourceLocation = "location"
)

// Publisher fans out records and derived stop states to live observers.
type Publisher interface {
	PublishTrip(t model.Trip) error
	PublishWaitRequest(w model.WaitRequest) error
	PublishAbsence(a model.Absence) error
	PublishStopState(tripID string, at time.Time, st waitstate.StopState) error
}

// Notifier is told when a trip's records changed.
type Notifier interface {
	Notify(tripID string)
}

type Options struct {
	Location *time.Location
	// ArrivalRadiusM enables automatic arrival from location pings. Zero disables.
	ArrivalRadiusM   float64
	DepartureRadiusM float64
	Now              func() time.Time
}

type Service struct {
	store    store.Store
	route    *route.Route
	index    *route.Index
	pub      Publisher
	metrics  *mmetrics.Collector
	notifier Notifier

	loc              *time.Location
	arrivalRadiusM   float64
	departureRadiusM float64
	now              func() time.Time
}

func NewService(st store.Store, rt *route.Route, pub Publisher, metrics *mmetrics.Collector, opts Options) *Service {
	s := &Service{
		store:            st,
		route:            rt,
		index:            route.NewIndex(rt.Stops),
		pub:              pub,
		metrics:          metrics,
		loc:              opts.Location,
		arrivalRadiusM:   opts.ArrivalRadiusM,
		departureRadiusM: opts.DepartureRadiusM,
		now:              opts.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.departureRadiusM < s.arrivalRadiusM {
		s.departureRadiusM = s.arrivalRadiusM
	}
	return s
}

// SetNotifier wires the watch manager after both have been built.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) Route() *route.Route { return s.route }

// Now is the service clock in the service time zone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// StartTrip creates today's trip for busID. A second start on the same day
// returns the existing trip.
func (s *Service) StartTrip(ctx context.Context, busID, driverID string) (model.Trip, error) {
	now := s.Now()
	t := model.Trip{
		ID:        waitstate.TripID(busID, now),
		BusID:     busID,
		DriverID:  driverID,
		StartedAt: now,
		Status:    model.InTransit,
	}
	stored, created, err := s.store.CreateTrip(ctx, t)
	if err != nil {
		return model.Trip{}, fmt.Errorf("start trip %s: %w", t.ID, err)
	}
	if !created {
		log.Printf("trip %s already started by %s", stored.ID, stored.DriverID)
		return stored, nil
	}
	log.Printf("started trip %s (bus %s, driver %s)", stored.ID, busID, driverID)
	if s.metrics != nil {
		s.metrics.TripsStarted.Inc()
	}
	s.changed(stored)
	return stored, nil
}

func (s *Service) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	return s.store.GetTrip(ctx, tripID)
}

// ActiveTrips lists trips that have not been ended.
func (s *Service) ActiveTrips(ctx context.Context) ([]model.Trip, error) {
	return s.store.ListActiveTrips(ctx)
}

// Arrive records arrival at stopID. Arriving while parked at another stop
// departs from it first; arriving again at the current stop keeps the
// original arrival time.
func (s *Service) Arrive(ctx context.Context, tripID, stopID string) (model.Trip, error) {
	return s.arrive(ctx, tripID, stopID, sourceDriver)
}

func (s *Service) arrive(ctx context.Context, tripID, stopID, source string) (model.Trip, error) {
	if _, ok := s.route.Stop(stopID); !ok {
		return model.Trip{}, fmt.Errorf("arrive at %q: %w", stopID, ErrUnknownStop)
	}
	t, err := s.activeTrip(ctx, tripID)
	if err != nil {
		return model.Trip{}, err
	}
	if t.Status == model.AtStop && t.CurrentStopID == stopID {
		return t, nil
	}
	if t.Status == model.AtStop {
		log.Printf("trip %s left %s", t.ID, t.CurrentStopID)
		if s.metrics != nil {
			s.metrics.Departures.WithLabelValues(source).Inc()
		}
	}
	now := s.Now()
	t.Status = model.AtStop
	t.CurrentStopID = stopID
	t.StopArrivedAt = &now
	t.LastDepartedStopID = ""
	t.ClearOfLastStop = false
	if err := s.store.UpdateTrip(ctx, t); err != nil {
		return model.Trip{}, fmt.Errorf("arrive trip %s: %w", t.ID, err)
	}
	log.Printf("trip %s arrived at %s (%s)", t.ID, stopID, source)
	if s.metrics != nil {
		s.metrics.Arrivals.WithLabelValues(source).Inc()
	}
	s.changed(t)
	return t, nil
}

// Depart clears the current stop. It is a no-op while in transit.
func (s *Service) Depart(ctx context.Context, tripID string) (model.Trip, error) {
	return s.depart(ctx, tripID, sourceDriver, false)
}

// depart leaves the current stop. clear records that the bus is already
// beyond the stop's departure radius.
func (s *Service) depart(ctx context.Context, tripID, source string, clear bool) (model.Trip, error) {
	t, err := s.activeTrip(ctx, tripID)
	if err != nil {
		return model.Trip{}, err
	}
	if t.Status != model.AtStop {
		return t, nil
	}
	left := t.CurrentStopID
	t.Status = model.InTransit
	t.CurrentStopID = ""
	t.StopArrivedAt = nil
	t.LastDepartedStopID = left
	t.ClearOfLastStop = clear
	if err := s.store.UpdateTrip(ctx, t); err != nil {
		return model.Trip{}, fmt.Errorf("depart trip %s: %w", t.ID, err)
	}
	log.Printf("trip %s left %s (%s)", t.ID, left, source)
	if s.metrics != nil {
		s.metrics.Departures.WithLabelValues(source).Inc()
	}
	s.changed(t)
	return t, nil
}

// EndTrip sets the end time. Ending an ended trip returns ErrTripEnded.
func (s *Service) EndTrip(ctx context.Context, tripID string) (model.Trip, error) {
	t, err := s.activeTrip(ctx, tripID)
	if err != nil {
		return model.Trip{}, err
	}
	now := s.Now()
	t.EndedAt = &now
	t.Status = model.InTransit
	t.CurrentStopID = ""
	t.StopArrivedAt = nil
	if err := s.store.UpdateTrip(ctx, t); err != nil {
		return model.Trip{}, fmt.Errorf("end trip %s: %w", t.ID, err)
	}
	log.Printf("ended trip %s", t.ID)
	if s.metrics != nil {
		s.metrics.TripsEnded.Inc()
	}
	s.changed(t)
	return t, nil
}

// UpdateLocation records a location ping. With an arrival radius configured,
// a ping near a stop while in transit arrives there, and a ping beyond the
// departure radius of the current stop departs. The stop just departed is not
// arrived at again until a ping has landed beyond its departure radius.
func (s *Service) UpdateLocation(ctx context.Context, tripID string, lat, lon float64) (model.Trip, error) {
	t, err := s.activeTrip(ctx, tripID)
	if err != nil {
		return model.Trip{}, err
	}
	if s.metrics != nil {
		s.metrics.LocationPings.Inc()
	}
	t.Location = &model.Location{
		Lat:       lat,
		Lon:       lon,
		Geohash:   route.Geohash(lat, lon),
		UpdatedAt: s.Now(),
	}
	if t.Status == model.InTransit && t.LastDepartedStopID != "" && !t.ClearOfLastStop {
		if stop, ok := s.route.Stop(t.LastDepartedStopID); !ok ||
			route.DistanceMeters(lat, lon, stop.Lat, stop.Lon) > s.departureRadiusM {
			t.ClearOfLastStop = true
		}
	}
	if err := s.store.UpdateTrip(ctx, t); err != nil {
		return model.Trip{}, fmt.Errorf("update location %s: %w", t.ID, err)
	}
	if s.arrivalRadiusM <= 0 {
		s.changed(t)
		return t, nil
	}

	switch t.Status {
	case model.InTransit:
		if stop, d, ok := s.index.Nearest(lat, lon, s.arrivalRadiusM); ok {
			if stop.ID == t.LastDepartedStopID && !t.ClearOfLastStop {
				break
			}
			log.Printf("trip %s within %.0fm of %s", t.ID, d, stop.ID)
			return s.arrive(ctx, t.ID, stop.ID, sourceLocation)
		}
	case model.AtStop:
		if stop, ok := s.route.Stop(t.CurrentStopID); ok {
			if route.DistanceMeters(lat, lon, stop.Lat, stop.Lon) > s.departureRadiusM {
				return s.depart(ctx, t.ID, sourceLocation, true)
			}
		}
	}
	s.changed(t)
	return t, nil
}

// StopStates evaluates every stop of the route for tripID at the current time.
func (s *Service) StopStates(ctx context.Context, tripID string) ([]waitstate.StopState, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, t, s.Now())
}

func (s *Service) StopState(ctx context.Context, tripID, stopID string) (waitstate.StopState, error) {
	stop, ok := s.route.Stop(stopID)
	if !ok {
		return waitstate.StopState{}, fmt.Errorf("stop %q: %w", stopID, ErrUnknownStop)
	}
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return waitstate.StopState{}, err
	}
	return s.evaluateStop(ctx, stop, &t, s.Now())
}

func (s *Service) evaluate(ctx context.Context, t model.Trip, now time.Time) ([]waitstate.StopState, error) {
	out := make([]waitstate.StopState, 0, len(s.route.Stops))
	for _, stop := range s.route.Stops {
		st, err := s.evaluateStop(ctx, stop, &t, now)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Service) evaluateStop(ctx context.Context, stop model.RouteStop, t *model.Trip, now time.Time) (waitstate.StopState, error) {
	absences, err := s.store.ListAbsences(ctx, t.ID, stop.ID)
	if err != nil {
		return waitstate.StopState{}, fmt.Errorf("list absences %s/%s: %w", t.ID, stop.ID, err)
	}
	var waits []model.WaitRequest
	if t.CurrentStopID == stop.ID {
		waits, err = s.store.ListWaitRequests(ctx, t.ID, stop.ID)
		if err != nil {
			return waitstate.StopState{}, fmt.Errorf("list wait requests %s/%s: %w", t.ID, stop.ID, err)
		}
	}
	return waitstate.Evaluate(stop, t, s.route.RidersAt(stop.ID), absences, waits, now), nil
}

// RequestWait asks the bus to hold at the rider's stop. A denial is returned
// as a Decision with a nil error.
func (s *Service) RequestWait(ctx context.Context, tripID, riderID string) (waitstate.Decision, error) {
	const action = "wait_request"
	rider, ok := s.route.Rider(riderID)
	if !ok {
		return waitstate.Decision{}, fmt.Errorf("rider %q: %w", riderID, ErrUnknownRider)
	}
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.decided(action, waitstate.Deny(waitstate.ReasonNoActiveTrip)), nil
		}
		return waitstate.Decision{}, err
	}
	if !t.Active() {
		return s.decided(action, waitstate.Deny(waitstate.ReasonNoActiveTrip)), nil
	}
	hasAbsence, err := s.hasAbsence(ctx, t.ID, rider.ID)
	if err != nil {
		return waitstate.Decision{}, err
	}
	now := s.Now()
	d := waitstate.CanRequestWait(hasAbsence, &t, rider.StopID, now)
	if !d.Allowed {
		return s.decided(action, d), nil
	}

	w := model.WaitRequest{
		ID:        uuid.NewString(),
		TripID:    t.ID,
		RiderID:   rider.ID,
		StopID:    rider.StopID,
		CreatedAt: now,
	}
	if err := s.store.PutWaitRequest(ctx, w); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.decided(action, waitstate.Deny(waitstate.ReasonAlreadyWaiting)), nil
		}
		return waitstate.Decision{}, fmt.Errorf("put wait request: %w", err)
	}
	log.Printf("rider %s requested wait on trip %s at %s", rider.ID, t.ID, w.StopID)
	if s.metrics != nil {
		s.metrics.RecordsWritten.WithLabelValues(action).Inc()
	}
	if err := s.pub.PublishWaitRequest(w); err != nil {
		log.Printf("publish wait request %s: %v", w.ID, err)
	}
	s.notify(t.ID)
	return s.decided(action, d), nil
}

// MarkAbsent records that riderID will not board today's trip of busID.
func (s *Service) MarkAbsent(ctx context.Context, busID, riderID string) (waitstate.Decision, error) {
	const action = "absence"
	rider, ok := s.route.Rider(riderID)
	if !ok {
		return waitstate.Decision{}, fmt.Errorf("rider %q: %w", riderID, ErrUnknownRider)
	}
	now := s.Now()
	tripID := waitstate.TripID(busID, now)
	t, err := s.store.GetTrip(ctx, tripID)
	tripExists := err == nil && t.Active()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return waitstate.Decision{}, err
	}
	already := false
	if tripExists {
		if already, err = s.hasAbsence(ctx, tripID, rider.ID); err != nil {
			return waitstate.Decision{}, err
		}
	}
	d := waitstate.CanMarkAbsent(already, tripExists)
	if !d.Allowed {
		return s.decided(action, d), nil
	}

	a := model.Absence{
		ID:        uuid.NewString(),
		TripID:    tripID,
		RiderID:   rider.ID,
		StopID:    rider.StopID,
		CreatedAt: now,
	}
	if err := s.store.PutAbsence(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.decided(action, waitstate.Deny(waitstate.ReasonAlreadyAbsent)), nil
		}
		return waitstate.Decision{}, fmt.Errorf("put absence: %w", err)
	}
	log.Printf("rider %s marked absent on trip %s at %s", rider.ID, tripID, a.StopID)
	if s.metrics != nil {
		s.metrics.RecordsWritten.WithLabelValues(action).Inc()
	}
	if err := s.pub.PublishAbsence(a); err != nil {
		log.Printf("publish absence %s: %v", a.ID, err)
	}
	s.notify(tripID)
	return s.decided(action, d), nil
}

func (s *Service) hasAbsence(ctx context.Context, tripID, riderID string) (bool, error) {
	_, err := s.store.GetAbsence(ctx, tripID, riderID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get absence: %w", err)
	}
}

func (s *Service) activeTrip(ctx context.Context, tripID string) (model.Trip, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return model.Trip{}, err
	}
	if !t.Active() {
		return model.Trip{}, fmt.Errorf("trip %s: %w", tripID, ErrTripEnded)
	}
	return t, nil
}

func (s *Service) decided(action string, d waitstate.Decision) waitstate.Decision {
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(action, fmt.Sprint(d.Allowed), d.Reason).Inc()
	}
	return d
}

func (s *Service) changed(t model.Trip) {
	if err := s.pub.PublishTrip(t); err != nil {
		log.Printf("publish trip %s: %v", t.ID, err)
	}
	s.notify(t.ID)
}

func (s *Service) notify(tripID string) {
	if s.notifier != nil {
		s.notifier.Notify(tripID)
	}
}
