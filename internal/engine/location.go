package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awaistahir/moonhunter/internal/geo"
)

// DefaultRomaniaTimezone applies to locations picked from the county/locality table
const DefaultRomaniaTimezone = "Europe/Bucharest"

// Zone resolves the time zone that clock-time windows are evaluated in.
// An explicit IANA name wins, table locations fall back to Bucharest and
// anything else to a longitude-derived offset.
func (s *Scene) Zone() *time.Location {
	tz := s.Location.Timezone
	if tz == "" && s.LocationType == LocationRomania {
		tz = DefaultRomaniaTimezone
	}
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return geo.FallbackTimezone(s.Location.Longitude)
}

// ParseGPS parses "lat lon" or "lat, lon"
func ParseGPS(input string) (lat, lon float64, err error) {
	fields := strings.Fields(strings.ReplaceAll(input, ",", " "))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected \"latitude longitude\", got %q", input)
	}

	lat, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing latitude: %w", err)
	}
	lon, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing longitude: %w", err)
	}

	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %.4f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude %.4f out of range", lon)
	}
	return lat, lon, nil
}
