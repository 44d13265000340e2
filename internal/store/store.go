// Package store defines the storage collaborator for trips and their child
// records. Wait requests and absences are append-only and unique per key, so
// concurrent riders never overwrite each other.
package store

import (
	"context"
	"errors"

	"bus-wait-tracker/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Store interface {
	// CreateTrip inserts t unless a trip with the same ID exists, in which case
	// the stored trip is returned with created=false.
	CreateTrip(ctx context.Context, t model.Trip) (stored model.Trip, created bool, err error)
	GetTrip(ctx context.Context, tripID string) (model.Trip, error)
	UpdateTrip(ctx context.Context, t model.Trip) error
	ListActiveTrips(ctx context.Context) ([]model.Trip, error)

	// PutWaitRequest is keyed by (trip, rider, stop).
	PutWaitRequest(ctx context.Context, w model.WaitRequest) error
	ListWaitRequests(ctx context.Context, tripID, stopID string) ([]model.WaitRequest, error)

	// PutAbsence is keyed by (trip, rider).
	PutAbsence(ctx context.Context, a model.Absence) error
	GetAbsence(ctx context.Context, tripID, riderID string) (model.Absence, error)
	ListAbsences(ctx context.Context, tripID, stopID string) ([]model.Absence, error)

	Close() error
}
