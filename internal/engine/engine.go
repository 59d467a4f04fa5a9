package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidScene   = errors.New("invalid scene constraints")
	ErrSceneExists    = errors.New("scene already exists")
	ErrSceneNotFound  = errors.New("scene not found")
	ErrScanInProgress = errors.New("scan already running for scene")
)

const minutesPerDay = 24 * 60

// NormalizeAzimuth maps any angle in degrees into [0,360)
func NormalizeAzimuth(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AzimuthInRange reports whether azimuth lies on the arc from min to max.
// When min > max the arc wraps through north (e.g. 330-30).
func AzimuthInRange(azimuth, min, max float64) bool {
	azimuth = NormalizeAzimuth(azimuth)
	min = NormalizeAzimuth(min)
	max = NormalizeAzimuth(max)

	if min <= max {
		return azimuth >= min && azimuth <= max
	}
	return azimuth >= min || azimuth <= max
}

// ElevationInRange is a plain inclusive check, elevation never wraps
func ElevationInRange(elevation, min, max float64) bool {
	return elevation >= min && elevation <= max
}

// parseTimeOfDay parses HH:mm format into minutes since midnight
func parseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inWindow is the minutes-since-midnight form of TimeInWindow.
// Without endsNextDay a window with end < start is empty.
func inWindow(current, start, end int, endsNextDay bool) bool {
	if endsNextDay && end < start {
		end += minutesPerDay
		if current < start {
			current += minutesPerDay
		}
	}
	return start <= current && current <= end
}

// TimeInWindow checks whether an HH:MM clock time falls inside [start, end].
// endsNextDay marks windows that cross midnight (e.g. 20:00 - 02:00).
func TimeInWindow(clock, start, end string, endsNextDay bool) (bool, error) {
	c, err := parseTimeOfDay(clock)
	if err != nil {
		return false, err
	}
	s, err := parseTimeOfDay(start)
	if err != nil {
		return false, err
	}
	e, err := parseTimeOfDay(end)
	if err != nil {
		return false, err
	}
	return inWindow(c, s, e, endsNextDay), nil
}
