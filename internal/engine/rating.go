package engine

import (
	"fmt"
	"math"
	"time"
)

// Reference band for the Earth-Moon distance, kilometers
const (
	PerigeeMinKm = 356400.0
	PerigeeMaxKm = 370400.0
	ApogeeMinKm  = 404000.0
	ApogeeMaxKm  = 406700.0
)

// DistanceClass classifies how close the Moon is to perigee or apogee
type DistanceClass string

const (
	ClassPerigee      DistanceClass = "PERIGEU"
	ClassApogee       DistanceClass = "APOGEU"
	ClassIntermediate DistanceClass = "INTERMEDIAR"
)

// DistanceRating is the 1-10 proximity rating (10 = at perigee)
type DistanceRating struct {
	Rating     int           `json:"rating"`
	Class      DistanceClass `json:"class"`
	DistanceKm float64       `json:"distance_km"`
	Percent    float64       `json:"percent"` // position inside the reference band, 0 at PerigeeMinKm
}

// RateDistance maps a distance to a rating and classification.
//
// The rating is not clamped: distances outside [PerigeeMinKm, ApogeeMaxKm]
// yield ratings above 10 or below 1. Rounding is half-to-even.
func RateDistance(km float64) DistanceRating {
	totalRange := ApogeeMaxKm - PerigeeMinKm
	position := km - PerigeeMinKm

	rating := 10 - int(math.RoundToEven(position/totalRange*9))

	class := ClassIntermediate
	switch {
	case km >= PerigeeMinKm && km <= PerigeeMaxKm:
		class = ClassPerigee
	case km >= ApogeeMinKm && km <= ApogeeMaxKm:
		class = ClassApogee
	}

	return DistanceRating{
		Rating:     rating,
		Class:      class,
		DistanceKm: km,
		Percent:    position / totalRange * 100,
	}
}

// RateAt rates the Earth-Moon distance at an arbitrary instant
func RateAt(eph Ephemeris, t time.Time) (DistanceRating, error) {
	km, err := eph.Distance(t)
	if err != nil {
		return DistanceRating{}, fmt.Errorf("computing distance at %s: %w", t.Format(time.RFC3339), err)
	}
	return RateDistance(km), nil
}

// ClassForRating derives a display class from a rating alone (>=8 perigee, <=3 apogee)
func ClassForRating(rating int) DistanceClass {
	switch {
	case rating >= 8:
		return ClassPerigee
	case rating <= 3:
		return ClassApogee
	default:
		return ClassIntermediate
	}
}

func (r DistanceRating) String() string {
	return fmt.Sprintf("%s (%d/10)", r.Class, r.Rating)
}
