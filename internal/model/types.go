package model

import "time"

type TripStatus string

const (
	InTransit TripStatus = "IN_TRANSIT"
	AtStop    TripStatus = "AT_STOP"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

type RouteStop struct {
	ID            string  `json:"stopId" yaml:"id" validate:"required"`
	Name          string  `json:"name" yaml:"name" validate:"required"`
	Lat           float64 `json:"lat" yaml:"lat" validate:"latitude"`
	Lon           float64 `json:"lon" yaml:"lon" validate:"longitude"`
	ScheduledTime string  `json:"scheduledTime" yaml:"scheduled_time" validate:"omitempty,datetime=15:04"` // local time of day
}

type Rider struct {
	ID     string `json:"riderId" yaml:"id" validate:"required"`
	Name   string `json:"name" yaml:"name"`
	StopID string `json:"stopId" yaml:"stop_id" validate:"required"` // preferred stop
}

type Route struct {
	ID     string      `json:"routeId" yaml:"id" validate:"required"`
	Name   string      `json:"name" yaml:"name"`
	BusID  string      `json:"busId" yaml:"bus_id" validate:"required"`
	Stops  []RouteStop `json:"stops" yaml:"stops" validate:"required,min=1,unique=ID,dive"`
	Riders []Rider     `json:"riders" yaml:"riders" validate:"unique=ID,dive"`
}

type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Geohash   string    `json:"geohash,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Trip struct {
	ID            string     `json:"tripId"`
	BusID         string     `json:"busId"`
	DriverID      string     `json:"driverId"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Status        TripStatus `json:"status"`
	CurrentStopID string     `json:"currentStopId,omitempty"` // "" while IN_TRANSIT
	StopArrivedAt *time.Time `json:"stopArrivedAt,omitempty"` // nil while IN_TRANSIT
	Location      *Location  `json:"location,omitempty"`

	// LastDepartedStopID is the stop most recently left, kept until the next
	// arrival. ClearOfLastStop is set once a location ping lands beyond the
	// departure radius of that stop; until then it cannot be auto-arrived at.
	LastDepartedStopID string `json:"lastDepartedStopId,omitempty"`
	ClearOfLastStop    bool   `json:"clearOfLastStop,omitempty"`
}

// Active reports whether the trip has not been ended.
func (t Trip) Active() bool { return t.EndedAt == nil }

type WaitRequest struct {
	ID        string    `json:"id"`
	TripID    string    `json:"tripId"`
	RiderID   string    `json:"riderId"`
	StopID    string    `json:"stopId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Absence struct {
	ID        string    `json:"id"`
	TripID    string    `json:"tripId"`
	RiderID   string    `json:"riderId"`
	StopID    string    `json:"stopId"`
	CreatedAt time.Time `json:"createdAt"`
}
