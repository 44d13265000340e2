// Package cache is a Redis-backed Store. Child records live in hashes keyed by
// rider so HSETNX gives the same one-record-per-key guarantee as the SQL
// unique constraints.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/go-redis/redis/v8"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/store"
)

type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects and pings the server at addr.
func NewRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("connected to redis at %s", addr)
	if prefix == "" {
		prefix = "buswait"
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) tripKey(id string) string      { return fmt.Sprintf("%s:trip:%s", r.prefix, id) }
func (r *Redis) activeKey() string             { return r.prefix + ":trips:active" }
func (r *Redis) absenceKey(trip string) string { return fmt.Sprintf("%s:trip:%s:absences", r.prefix, trip) }

func (r *Redis) waitKey(trip, stop string) string {
	return fmt.Sprintf("%s:trip:%s:waits:%s", r.prefix, trip, stop)
}

func (r *Redis) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, bool, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return model.Trip{}, false, err
	}
	ok, err := r.rdb.SetNX(ctx, r.tripKey(t.ID), b, 0).Result()
	if err != nil {
		return model.Trip{}, false, fmt.Errorf("create trip: %w", err)
	}
	if !ok {
		existing, err := r.GetTrip(ctx, t.ID)
		return existing, false, err
	}
	if t.Active() {
		if err := r.rdb.SAdd(ctx, r.activeKey(), t.ID).Err(); err != nil {
			return model.Trip{}, false, fmt.Errorf("index trip: %w", err)
		}
	}
	return t, true, nil
}

func (r *Redis) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	b, err := r.rdb.Get(ctx, r.tripKey(tripID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Trip{}, store.ErrNotFound
		}
		return model.Trip{}, fmt.Errorf("get trip: %w", err)
	}
	var t model.Trip
	if err := json.Unmarshal(b, &t); err != nil {
		return model.Trip{}, fmt.Errorf("decode trip %s: %w", tripID, err)
	}
	return t, nil
}

func (r *Redis) UpdateTrip(ctx context.Context, t model.Trip) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetXX(ctx, r.tripKey(t.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	if t.Active() {
		return r.rdb.SAdd(ctx, r.activeKey(), t.ID).Err()
	}
	return r.rdb.SRem(ctx, r.activeKey(), t.ID).Err()
}

func (r *Redis) ListActiveTrips(ctx context.Context) ([]model.Trip, error) {
	ids, err := r.rdb.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active trips: %w", err)
	}
	sort.Strings(ids)
	var out []model.Trip
	for _, id := range ids {
		t, err := r.GetTrip(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.Active() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Redis) PutWaitRequest(ctx context.Context, w model.WaitRequest) error {
	return r.putOnce(ctx, r.waitKey(w.TripID, w.StopID), w.RiderID, w)
}

func (r *Redis) ListWaitRequests(ctx context.Context, tripID, stopID string) ([]model.WaitRequest, error) {
	vals, err := r.rdb.HVals(ctx, r.waitKey(tripID, stopID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list wait requests: %w", err)
	}
	out := make([]model.WaitRequest, 0, len(vals))
	for _, v := range vals {
		var w model.WaitRequest
		if err := json.Unmarshal([]byte(v), &w); err != nil {
			return nil, fmt.Errorf("decode wait request: %w", err)
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Redis) PutAbsence(ctx context.Context, a model.Absence) error {
	return r.putOnce(ctx, r.absenceKey(a.TripID), a.RiderID, a)
}

func (r *Redis) GetAbsence(ctx context.Context, tripID, riderID string) (model.Absence, error) {
	v, err := r.rdb.HGet(ctx, r.absenceKey(tripID), riderID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Absence{}, store.ErrNotFound
		}
		return model.Absence{}, fmt.Errorf("get absence: %w", err)
	}
	var a model.Absence
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return model.Absence{}, fmt.Errorf("decode absence: %w", err)
	}
	return a, nil
}

// ListAbsences scans the trip's absence hash; a trip has at most one entry
// per rider on the route, so the hash stays small.
func (r *Redis) ListAbsences(ctx context.Context, tripID, stopID string) ([]model.Absence, error) {
	vals, err := r.rdb.HVals(ctx, r.absenceKey(tripID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list absences: %w", err)
	}
	var out []model.Absence
	for _, v := range vals {
		var a model.Absence
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("decode absence: %w", err)
		}
		if a.StopID == stopID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Redis) putOnce(ctx context.Context, key, field string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ok, err := r.rdb.HSetNX(ctx, key, field, b).Result()
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	return nil
}

var _ store.Store = (*Redis)(nil)
