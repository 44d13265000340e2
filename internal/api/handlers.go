package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"bus-wait-tracker/internal/feed"
	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/tracker"
	"bus-wait-tracker/internal/waitstate"
)

type ctxKey int

const userIDKey ctxKey = 0

type startTripRequest struct {
	BusID string `json:"busId" validate:"required"`
}

type arriveRequest struct {
	StopID string `json:"stopId" validate:"required"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lon *float64 `json:"lon" validate:"required,longitude"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// requireRole rejects callers whose identity headers are missing or carry a
// different role.
func (s *Server) requireRole(role model.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(headerUserID))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+headerUserID)
			return
		}
		if model.Role(strings.ToLower(r.Header.Get(headerRole))) != role {
			writeError(w, http.StatusForbidden, "requires role "+string(role))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// StartTrip handles a driver starting today's run of a bus
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.svc.StartTrip(r.Context(), req.BusID, userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTrip(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) Arrive(w http.ResponseWriter, r *http.Request) {
	var req arriveRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.svc.Arrive(r.Context(), mux.Vars(r)["trip_id"], req.StopID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) Depart(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Depart(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) EndTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.EndTrip(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateLocation handles a location ping from the driver's device
func (s *Server) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.svc.UpdateLocation(r.Context(), mux.Vars(r)["trip_id"], *req.Lat, *req.Lon)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) StopStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.svc.StopStates(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) StopState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, err := s.svc.StopState(r.Context(), vars["trip_id"], vars["stop_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RequestWait answers 201 when the wait request was recorded and 409 with
// the reason when it was denied.
func (s *Server) RequestWait(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.RequestWait(r.Context(), mux.Vars(r)["trip_id"], userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDecision(w, d)
}

func (s *Server) MarkAbsent(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.MarkAbsent(r.Context(), mux.Vars(r)["bus_id"], userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDecision(w, d)
}

func (s *Server) Route(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Route().Route)
}

// VehiclePositions serves active trips as a GTFS-Realtime protobuf feed
func (s *Server) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	trips, err := s.svc.ActiveTrips(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	b, err := feed.Marshal(feed.VehiclePositions(s.svc.Route(), trips, s.svc.Now()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeDecision(w http.ResponseWriter, d waitstate.Decision) {
	status := http.StatusCreated
	if !d.Allowed {
		status = http.StatusConflict
	}
	writeJSON(w, status, d)
}

// writeServiceError maps sentinel errors to client statuses. Anything else is
// a fault the caller may retry.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrTripEnded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tracker.ErrUnknownStop), errors.Is(err, tracker.ErrUnknownRider):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api error: %v", err)
		writeError(w, http.StatusInternalServerError, "temporarily unavailable, retry")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api encode: %v", err)
	}
}
