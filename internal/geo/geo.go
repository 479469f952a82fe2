// Package geo implements the great-circle geometry used to judge movement
// between two reported positions.
//
// Points are orb.Point values, which store longitude first. Distances use
// the spherical law of cosines in its atan2 form, which stays well conditioned
// for both coincident and antipodal points.
package geo

import (
	"errors"
	"math"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/friendloc/internal/units"
)

// EarthRadiusMeters is the mean radius the upstream service's clients use.
const EarthRadiusMeters = 6372795.0

// ErrNegativeInterval is returned by SpeedKPH when the newer report carries an
// earlier timestamp than the prior one.
var ErrNegativeInterval = errors.New("geo: negative time interval")

// IsOrigin reports whether p is the (0,0) sentinel used for entities that
// have never had a position applied.
func IsOrigin(p orb.Point) bool {
	return p[0] == 0 && p[1] == 0
}

// DistanceMeters returns the great-circle distance between two points given
// in degrees, rounded to the nearest metre.
func DistanceMeters(latA, lonA, latB, lonB float64) float64 {
	lat1 := deg2rad(latA)
	lat2 := deg2rad(latB)
	delta := deg2rad(lonB) - deg2rad(lonA)

	cl1, sl1 := math.Cos(lat1), math.Sin(lat1)
	cl2, sl2 := math.Cos(lat2), math.Sin(lat2)
	cdelta, sdelta := math.Cos(delta), math.Sin(delta)

	y := math.Hypot(cl2*sdelta, cl1*sl2-sl1*cl2*cdelta)
	x := sl1*sl2 + cl1*cl2*cdelta

	return scalar.RoundEven(math.Atan2(y, x)*EarthRadiusMeters, 0)
}

// Distance is DistanceMeters over orb points.
func Distance(a, b orb.Point) float64 {
	return DistanceMeters(a.Lat(), a.Lon(), b.Lat(), b.Lon())
}

// SpeedKPH derives the average speed between two timestamped positions in
// km/h, rounded to two decimals.
//
// It returns 0 when either position is the origin sentinel or the timestamps
// are equal. A negative interval returns 0 and ErrNegativeInterval.
func SpeedKPH(prior orb.Point, priorTime time.Time, next orb.Point, nextTime time.Time) (float64, error) {
	if IsOrigin(prior) || IsOrigin(next) {
		return 0, nil
	}
	dt := nextTime.Sub(priorTime).Seconds()
	if dt == 0 {
		return 0, nil
	}
	if dt < 0 {
		return 0, ErrNegativeInterval
	}
	mps := Distance(prior, next) / dt
	return scalar.RoundEven(units.KPH(mps), 2), nil
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}
