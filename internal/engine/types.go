package engine

import (
	"context"
	"time"
)

// LocationKind records how a scene's location was chosen
type LocationKind string

const (
	LocationRomania LocationKind = "romania" // county/locality table
	LocationProfile LocationKind = "profile" // saved location profile
	LocationGPS     LocationKind = "gps"     // raw coordinates
)

// Location is the observer's position plus identifying metadata
type Location struct {
	Name      string  `json:"name,omitempty"`
	County    string  `json:"judet,omitempty"`
	Locality  string  `json:"localitate,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timezone  string  `json:"timezone,omitempty"` // IANA name, optional
}

// Scene is a named constraint set for one shooting location
type Scene struct {
	Name         string       `json:"name"`
	LocationType LocationKind `json:"location_type"`
	Location     Location     `json:"location_data"`

	AzimuthMin   float64 `json:"azimuth_min"` // may be greater than AzimuthMax (arc crosses north)
	AzimuthMax   float64 `json:"azimuth_max"`
	ElevationMin float64 `json:"elevation_min"`
	ElevationMax float64 `json:"elevation_max"`

	TimeStart      string `json:"time_start"` // HH:MM
	TimeEnd        string `json:"time_end"`   // HH:MM
	TimeEndNextDay bool   `json:"time_end_next_day"`

	MinIllumination int `json:"min_illumination"` // percent, inclusive

	Opportunities           []Opportunity `json:"opportunities"`
	CurrentOpportunityIndex int           `json:"current_opportunity_index"`
}

// Opportunity is one continuous interval in which every sample met the scene's constraints.
// The elevation/azimuth ranges are what the Moon actually swept, not the requested bounds.
type Opportunity struct {
	Start           time.Time `json:"start_datetime"`
	End             time.Time `json:"end_datetime"`
	ElevationMin    float64   `json:"elevation_min"`
	ElevationMax    float64   `json:"elevation_max"`
	AzimuthMin      float64   `json:"azimuth_min"`
	AzimuthMax      float64   `json:"azimuth_max"`
	MaxIllumination float64   `json:"max_illumination"` // percent
}

// Phase is an illumination reading for one instant
type Phase struct {
	Fraction float64 `json:"fraction"` // 0-1
	AgeDays  float64 `json:"age_days"`
}

// Percent returns the illuminated fraction as a percentage
func (p Phase) Percent() float64 {
	return p.Fraction * 100
}

// Waning reports whether the Moon is past full (age beyond half a synodic month)
func (p Phase) Waning() bool {
	return p.AgeDays > 14.765
}

// Ephemeris computes lunar geometry. Implementations must be deterministic for a fixed input.
type Ephemeris interface {
	// Position returns apparent topocentric elevation and azimuth in degrees.
	Position(loc Location, t time.Time) (elevation, azimuth float64, err error)
	// Distance returns the Earth-Moon distance in kilometers.
	Distance(t time.Time) (float64, error)
}

// IlluminationProvider returns the Moon's illumination for a unix timestamp.
// It may fail transiently and must be safe for concurrent use.
type IlluminationProvider interface {
	Illumination(ctx context.Context, unix int64) (Phase, error)
}

// PhaseCalendar finds full moons
type PhaseCalendar interface {
	FullMoons(start time.Time, n int, within time.Duration) ([]time.Time, error)
}

// Progress is a scan progress update
type Progress struct {
	Scene     string `json:"scene"`
	Day       int    `json:"day"`
	TotalDays int    `json:"total_days"`
	Percent   int    `json:"percent"`
}

// ProgressSink receives scan progress and may ask the scan to stop
type ProgressSink interface {
	ReportProgress(p Progress)
	CancelRequested() bool
}

// ProgressFunc adapts a function to a ProgressSink that never cancels
type ProgressFunc func(p Progress)

func (f ProgressFunc) ReportProgress(p Progress) { f(p) }
func (f ProgressFunc) CancelRequested() bool     { return false }

// ScanObserver receives scan telemetry. A nil observer is allowed.
type ScanObserver interface {
	ObserveScan(outcome string, duration time.Duration)
	ObserveSample(outcome string)
	ObserveProviderFailure(provider string)
}
