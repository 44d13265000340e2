package api

import (
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/tracker"
)

const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

type Server struct {
	svc      *tracker.Service
	validate *validator.Validate
	metrics  http.Handler
}

// NewServer builds the API. metrics may be nil to leave /metrics unmounted.
func NewServer(svc *tracker.Service, metrics http.Handler) *Server {
	return &Server{svc: svc, validate: validator.New(), metrics: metrics}
}

// Handler returns the routed API wrapped with CORS and, when accessLog is
// non-nil, combined access logging.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	router := mux.NewRouter()

	// Driver endpoints
	router.HandleFunc("/trips", s.requireRole(model.RoleDriver, s.StartTrip)).Methods("POST")
	router.HandleFunc("/trips/{trip_id}/arrive", s.requireRole(model.RoleDriver, s.Arrive)).Methods("POST")
	router.HandleFunc("/trips/{trip_id}/depart", s.requireRole(model.RoleDriver, s.Depart)).Methods("POST")
	router.HandleFunc("/trips/{trip_id}/end", s.requireRole(model.RoleDriver, s.EndTrip)).Methods("POST")
	router.HandleFunc("/trips/{trip_id}/location", s.requireRole(model.RoleDriver, s.UpdateLocation)).Methods("POST")

	// Rider endpoints
	router.HandleFunc("/trips/{trip_id}/wait-requests", s.requireRole(model.RoleRider, s.RequestWait)).Methods("POST")
	router.HandleFunc("/buses/{bus_id}/absences", s.requireRole(model.RoleRider, s.MarkAbsent)).Methods("POST")

	// Read endpoints
	router.HandleFunc("/trips/{trip_id}", s.GetTrip).Methods("GET")
	router.HandleFunc("/trips/{trip_id}/stops", s.StopStates).Methods("GET")
	router.HandleFunc("/trips/{trip_id}/stops/{stop_id}", s.StopState).Methods("GET")
	router.HandleFunc("/route", s.Route).Methods("GET")
	router.HandleFunc("/feed/vehicle-positions", s.VehiclePositions).Methods("GET")
	router.HandleFunc("/healthz", Healthz).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods("GET")
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedHeaders([]string{"Content-Type", headerUserID, headerRole}),
	)

	var h http.Handler = cors(router)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}
