package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/store"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Postgres is the durable Store. Uniqueness of wait requests and absences is
// enforced by table constraints, not by the caller.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

const tripColumns = `id, bus_id, driver_id, started_at, ended_at, status, current_stop_id, stop_arrived_at, lat, lon, geohash, location_at, last_departed_stop_id, clear_of_last_stop`

func (p *Postgres) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, bool, error) {
	r := toTripRow(t)
	q := `INSERT INTO trips (` + tripColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`
	res, err := p.db.ExecContext(ctx, q, r.args()...)
	if err != nil {
		return model.Trip{}, false, fmt.Errorf("insert trip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Trip{}, false, err
	}
	if n == 1 {
		return t, true, nil
	}
	existing, err := p.GetTrip(ctx, t.ID)
	return existing, false, err
}

func (p *Postgres) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	var r tripRow
	if err := r.scan(p.db.QueryRowContext(ctx, q, tripID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trip{}, store.ErrNotFound
		}
		return model.Trip{}, fmt.Errorf("query trip: %w", err)
	}
	return r.trip(), nil
}

func (p *Postgres) UpdateTrip(ctx context.Context, t model.Trip) error {
	r := toTripRow(t)
	q := `UPDATE trips SET bus_id = $2, driver_id = $3, started_at = $4, ended_at = $5, status = $6,
       current_stop_id = $7, stop_arrived_at = $8, lat = $9, lon = $10, geohash = $11, location_at = $12,
       last_departed_stop_id = $13, clear_of_last_stop = $14
WHERE id = $1`
	res, err := p.db.ExecContext(ctx, q, r.args()...)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListActiveTrips(ctx context.Context) ([]model.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE ended_at IS NULL ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query active trips: %w", err)
	}
	defer rows.Close()
	var trips []model.Trip
	for rows.Next() {
		var r tripRow
		if err := r.scan(rows); err != nil {
			return nil, err
		}
		trips = append(trips, r.trip())
	}
	return trips, rows.Err()
}

func (p *Postgres) PutWaitRequest(ctx context.Context, w model.WaitRequest) error {
	q := `INSERT INTO wait_requests (id, trip_id, rider_id, stop_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (trip_id, rider_id, stop_id) DO NOTHING`
	return p.insertOnce(ctx, "wait request", q, w.ID, w.TripID, w.RiderID, w.StopID, w.CreatedAt)
}

func (p *Postgres) ListWaitRequests(ctx context.Context, tripID, stopID string) ([]model.WaitRequest, error) {
	q := `SELECT id, trip_id, rider_id, stop_id, created_at FROM wait_requests
WHERE trip_id = $1 AND stop_id = $2 ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, tripID, stopID)
	if err != nil {
		return nil, fmt.Errorf("query wait requests: %w", err)
	}
	defer rows.Close()
	var out []model.WaitRequest
	for rows.Next() {
		var w model.WaitRequest
		if err := rows.Scan(&w.ID, &w.TripID, &w.RiderID, &w.StopID, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) PutAbsence(ctx context.Context, a model.Absence) error {
	q := `INSERT INTO absences (id, trip_id, rider_id, stop_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (trip_id, rider_id) DO NOTHING`
	return p.insertOnce(ctx, "absence", q, a.ID, a.TripID, a.RiderID, a.StopID, a.CreatedAt)
}

func (p *Postgres) GetAbsence(ctx context.Context, tripID, riderID string) (model.Absence, error) {
	q := `SELECT id, trip_id, rider_id, stop_id, created_at FROM absences WHERE trip_id = $1 AND rider_id = $2`
	var a model.Absence
	err := p.db.QueryRowContext(ctx, q, tripID, riderID).Scan(&a.ID, &a.TripID, &a.RiderID, &a.StopID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Absence{}, store.ErrNotFound
		}
		return model.Absence{}, fmt.Errorf("query absence: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAbsences(ctx context.Context, tripID, stopID string) ([]model.Absence, error) {
	q := `SELECT id, trip_id, rider_id, stop_id, created_at FROM absences
WHERE trip_id = $1 AND stop_id = $2 ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, tripID, stopID)
	if err != nil {
		return nil, fmt.Errorf("query absences: %w", err)
	}
	defer rows.Close()
	var out []model.Absence
	for rows.Next() {
		var a model.Absence
		if err := rows.Scan(&a.ID, &a.TripID, &a.RiderID, &a.StopID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// insertOnce runs an ON CONFLICT DO NOTHING insert and turns a skipped row
// into store.ErrDuplicate.
func (p *Postgres) insertOnce(ctx context.Context, what, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

type tripRow struct {
	ID, BusID, DriverID string
	StartedAt           time.Time
	EndedAt             sql.NullTime
	Status              string
	CurrentStopID       sql.NullString
	StopArrivedAt       sql.NullTime
	Lat, Lon            sql.NullFloat64
	Geohash             sql.NullString
	LocationAt          sql.NullTime
	LastDepartedStopID  sql.NullString
	ClearOfLastStop     bool
}

func (r *tripRow) scan(s scanner) error {
	return s.Scan(&r.ID, &r.BusID, &r.DriverID, &r.StartedAt, &r.EndedAt, &r.Status,
		&r.CurrentStopID, &r.StopArrivedAt, &r.Lat, &r.Lon, &r.Geohash, &r.LocationAt, &r.LastDepartedStopID, &r.ClearOfLastStop)
}

func (r tripRow) args() []any {
	return []any{r.ID, r.BusID, r.DriverID, r.StartedAt, r.EndedAt, r.Status,
		r.CurrentStopID, r.StopArrivedAt, r.Lat, r.Lon, r.Geohash, r.LocationAt, r.LastDepartedStopID, r.ClearOfLastStop}
}

func toTripRow(t model.Trip) tripRow {
	r := tripRow{
		ID:            t.ID,
		BusID:         t.BusID,
		DriverID:      t.DriverID,
		StartedAt:     t.StartedAt,
		Status:        string(t.Status),
		CurrentStopID: sql.NullString{String: t.CurrentStopID, Valid: t.CurrentStopID != ""},

		LastDepartedStopID: sql.NullString{String: t.LastDepartedStopID, Valid: t.LastDepartedStopID != ""},
		ClearOfLastStop:    t.ClearOfLastStop,
	}
	if t.EndedAt != nil {
		r.EndedAt = sql.NullTime{Time: *t.EndedAt, Valid: true}
	}
	if t.StopArrivedAt != nil {
		r.StopArrivedAt = sql.NullTime{Time: *t.StopArrivedAt, Valid: true}
	}
	if t.Location != nil {
		r.Lat = sql.NullFloat64{Float64: t.Location.Lat, Valid: true}
		r.Lon = sql.NullFloat64{Float64: t.Location.Lon, Valid: true}
		r.Geohash = sql.NullString{String: t.Location.Geohash, Valid: t.Location.Geohash != ""}
		r.LocationAt = sql.NullTime{Time: t.Location.UpdatedAt, Valid: true}
	}
	return r
}

func (r tripRow) trip() model.Trip {
	t := model.Trip{
		ID:            r.ID,
		BusID:         r.BusID,
		DriverID:      r.DriverID,
		StartedAt:     r.StartedAt,
		Status:        model.TripStatus(r.Status),
		CurrentStopID: r.CurrentStopID.String,

		LastDepartedStopID: r.LastDepartedStopID.String,
		ClearOfLastStop:    r.ClearOfLastStop,
	}
	if r.EndedAt.Valid {
		e := r.EndedAt.Time
		t.EndedAt = &e
	}
	if r.StopArrivedAt.Valid {
		a := r.StopArrivedAt.Time
		t.StopArrivedAt = &a
	}
	if r.Lat.Valid && r.Lon.Valid {
		t.Location = &model.Location{
			Lat:       r.Lat.Float64,
			Lon:       r.Lon.Float64,
			Geohash:   r.Geohash.String,
			UpdatedAt: r.LocationAt.Time,
		}
	}
	return t
}

var _ store.Store = (*Postgres)(nil)
