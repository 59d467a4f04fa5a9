package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// NextOpportunity is a stored opportunity enriched for the cross-scene summary
type NextOpportunity struct {
	Scene        string          `json:"scene"`
	Opportunity  Opportunity     `json:"opportunity"`
	Distance     *DistanceRating `json:"distance,omitempty"`
	Illumination *float64        `json:"illumination,omitempty"` // percent at start, nil when unavailable
}

// NextOpportunities collects future opportunities across all scenes, sorted by start.
// Rating and illumination lookups that fail leave the field empty.
func NextOpportunities(ctx context.Context, scenes []*Scene, eph Ephemeris, illum IlluminationProvider, now time.Time, limit int) []NextOpportunity {
	var all []NextOpportunity
	for _, scene := range scenes {
		for _, opp := range scene.Opportunities {
			if !opp.Start.After(now) {
				continue
			}
			all = append(all, NextOpportunity{Scene: scene.Name, Opportunity: opp})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Opportunity.Start.Before(all[j].Opportunity.Start)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	for i := range all {
		start := all[i].Opportunity.Start
		if eph != nil {
			if rating, err := RateAt(eph, start); err == nil {
				all[i].Distance = &rating
			}
		}
		if illum != nil {
			if phase, err := illum.Illumination(ctx, start.Unix()); err == nil {
				pct := phase.Percent()
				all[i].Illumination = &pct
			}
		}
	}
	return all
}

// FullMoonRating is the distance rating at one full moon
type FullMoonRating struct {
	Date       time.Time     `json:"date"`
	Rating     int           `json:"rating"`
	Class      DistanceClass `json:"class"`
	DistanceKm float64       `json:"distance_km"`
}

// Full-moon lookahead
const (
	FullMoonCount  = 12
	FullMoonWithin = 400 * 24 * time.Hour
)

// FullMoonRatings rates the next n full moons after start
func FullMoonRatings(eph Ephemeris, cal PhaseCalendar, start time.Time, n int) ([]FullMoonRating, error) {
	moons, err := cal.FullMoons(start, n, FullMoonWithin)
	if err != nil {
		return nil, fmt.Errorf("finding full moons: %w", err)
	}

	ratings := make([]FullMoonRating, 0, len(moons))
	for _, t := range moons {
		r, err := RateAt(eph, t)
		if err != nil {
			continue
		}
		ratings = append(ratings, FullMoonRating{
			Date:       t,
			Rating:     r.Rating,
			Class:      ClassForRating(r.Rating),
			DistanceKm: r.DistanceKm,
		})
	}
	return ratings, nil
}

// RatingsStillValid reports whether cached ratings can be reused: the first
// full moon must still lie in the future.
func RatingsStillValid(ratings []FullMoonRating, now time.Time) bool {
	return len(ratings) > 0 && ratings[0].Date.After(now)
}

// MoonStatus is a snapshot of the Moon for an observer
type MoonStatus struct {
	At            time.Time      `json:"at"`
	Elevation     float64        `json:"elevation"`
	Azimuth       float64        `json:"azimuth"`
	Visible       bool           `json:"visible"`
	ClockPosition int            `json:"clock_position"`
	Distance      DistanceRating `json:"distance"`
	Illumination  *float64       `json:"illumination,omitempty"`
	AgeDays       *float64       `json:"age_days,omitempty"`
	Waning        *bool          `json:"waning,omitempty"`
}

// AzimuthToClock converts an azimuth to a clock-face position 1-12
func AzimuthToClock(azimuth float64) int {
	hour := math.Mod(azimuth/30, 12)
	if hour < 0 {
		hour += 12
	}
	if int(hour) == 0 {
		return 12
	}
	return int(hour)
}

// Status computes the Moon's state at t. Illumination failure is not an error.
func Status(ctx context.Context, eph Ephemeris, illum IlluminationProvider, loc Location, t time.Time) (MoonStatus, error) {
	elevation, azimuth, err := eph.Position(loc, t)
	if err != nil {
		return MoonStatus{}, fmt.Errorf("computing moon position: %w", err)
	}
	rating, err := RateAt(eph, t)
	if err != nil {
		return MoonStatus{}, err
	}

	st := MoonStatus{
		At:            t,
		Elevation:     elevation,
		Azimuth:       azimuth,
		Visible:       elevation > 0,
		ClockPosition: AzimuthToClock(azimuth),
		Distance:      rating,
	}

	if illum != nil {
		if phase, err := illum.Illumination(ctx, t.Unix()); err == nil {
			pct := phase.Percent()
			age := phase.AgeDays
			waning := phase.Waning()
			st.Illumination = &pct
			st.AgeDays = &age
			st.Waning = &waning
		}
	}
	return st, nil
}
