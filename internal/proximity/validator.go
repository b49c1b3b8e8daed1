// Package proximity decides whether a courier-reported position is close
// enough to a destination to accept a delivery.
package proximity

import (
	"math"
	"time"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
)

const (
	DefaultRadiusM      = 50.0
	DefaultMaxAccuracyM = 50.0
)

// Reason names why a report was rejected.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInvalidPosition       Reason = "invalid_position"
	ReasonAccuracyTooLow        Reason = "accuracy_too_low"
	ReasonDestinationUnresolved Reason = "destination_unresolved"
	ReasonOutsideRadius         Reason = "outside_radius"
)

// Report is the courier's claimed position.
type Report struct {
	Lat        float64
	Lng        float64
	AccuracyM  float64
	ReportedAt time.Time
}

// Point returns the reported coordinates.
func (r Report) Point() geo.Point {
	return geo.Point{Lat: r.Lat, Lng: r.Lng}
}

// Geofence bounds an acceptable report.
type Geofence struct {
	RadiusM      float64
	MaxAccuracyM float64
}

// GeofenceFrom reads the tunables, falling back to defaults for unset values.
func GeofenceFrom(cfg models.GlobalConfig) Geofence {
	fence := Geofence{RadiusM: cfg.GeofenceRadiusM, MaxAccuracyM: cfg.GeofenceMaxAccuracyM}
	if fence.RadiusM <= 0 {
		fence.RadiusM = DefaultRadiusM
	}
	if fence.MaxAccuracyM <= 0 {
		fence.MaxAccuracyM = DefaultMaxAccuracyM
	}
	return fence
}

// Result is the outcome of one validation. DistanceM is zero when it could not
// be computed.
type Result struct {
	Accepted  bool
	Reason    Reason
	DistanceM float64
	Measured  bool
}

// Validate checks report against destination. Distance is always computed when
// both points are usable, so rejections can report it.
func Validate(report Report, destination *geo.Point, fence Geofence) Result {
	if !report.Point().Valid() || math.IsNaN(report.AccuracyM) || math.IsInf(report.AccuracyM, 0) || report.AccuracyM < 0 {
		return Result{Reason: ReasonInvalidPosition}
	}
	if destination == nil || !destination.Valid() {
		return Result{Reason: ReasonDestinationUnresolved}
	}
	res := Result{DistanceM: geo.HaversineMeters(report.Point(), *destination), Measured: true}
	switch {
	case report.AccuracyM > fence.MaxAccuracyM:
		res.Reason = ReasonAccuracyTooLow
	case res.DistanceM > fence.RadiusM:
		res.Reason = ReasonOutsideRadius
	default:
		res.Accepted = true
	}
	return res
}

// Err converts a rejected result into a ProximityRejected error. It returns nil
// for accepted results.
func (r Result) Err(report Report, fence Geofence) error {
	if r.Accepted {
		return nil
	}
	details := map[string]any{
		"reason":         r.Reason,
		"accuracy_m":     report.AccuracyM,
		"radius_m":       fence.RadiusM,
		"max_accuracy_m": fence.MaxAccuracyM,
	}
	if r.Measured {
		details["distance_m"] = math.Round(r.DistanceM*10) / 10
	}
	return pkgerrors.New(pkgerrors.CodeProximityRejected, message(r.Reason)).WithDetails(details)
}

func message(reason Reason) string {
	switch reason {
	case ReasonInvalidPosition:
		return "reported position is invalid"
	case ReasonAccuracyTooLow:
		return "reported accuracy is too low"
	case ReasonDestinationUnresolved:
		return "delivery destination is unknown"
	default:
		return "courier is too far from the destination"
	}
}
