// Package feed exports live trips as a GTFS-Realtime VehiclePositions feed.
package feed

import (
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/route"
)

const (
	realtimeVersion = "2.0"
	startDateLayout = "20060102"
)

// VehiclePositions builds a full-dataset feed with one entity per active trip.
// Trips without a known location are still listed so consumers see the stop
// status.
func VehiclePositions(rt *route.Route, trips []model.Trip, now time.Time) *gtfsrtpb.FeedMessage {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(realtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, t := range trips {
		if !t.Active() {
			continue
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(t.ID),
			Vehicle: vehiclePosition(rt, t),
		})
	}
	return fm
}

func vehiclePosition(rt *route.Route, t model.Trip) *gtfsrtpb.VehiclePosition {
	vp := &gtfsrtpb.VehiclePosition{
		Trip: &gtfsrtpb.TripDescriptor{
			TripId:    proto.String(t.ID),
			RouteId:   proto.String(rt.ID),
			StartDate: proto.String(t.StartedAt.Format(startDateLayout)),
		},
		Vehicle: &gtfsrtpb.VehicleDescriptor{
			Id:    proto.String(t.BusID),
			Label: proto.String(t.BusID),
		},
	}
	if t.Status == model.AtStop && t.CurrentStopID != "" {
		vp.CurrentStatus = gtfsrtpb.VehiclePosition_STOPPED_AT.Enum()
		vp.StopId = proto.String(t.CurrentStopID)
	} else {
		vp.CurrentStatus = gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum()
		if next := nextStopID(rt, t); next != "" {
			vp.StopId = proto.String(next)
		}
	}
	if t.Location != nil {
		vp.Position = &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(t.Location.Lat)),
			Longitude: proto.Float32(float32(t.Location.Lon)),
		}
		vp.Timestamp = proto.Uint64(uint64(t.Location.UpdatedAt.Unix()))
	}
	return vp
}

// nextStopID is the stop a moving bus is heading for: the one after the stop
// it last left, or the first stop before it has left any. It is empty past
// the last stop.
func nextStopID(rt *route.Route, t model.Trip) string {
	if t.LastDepartedStopID == "" {
		if len(rt.Stops) == 0 {
			return ""
		}
		return rt.Stops[0].ID
	}
	return rt.NextStopID(t.LastDepartedStopID)
}

func Marshal(fm *gtfsrtpb.FeedMessage) ([]byte, error) {
	return proto.Marshal(fm)
}
