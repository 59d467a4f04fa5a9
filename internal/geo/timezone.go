package geo

import (
	"fmt"
	"math"
	"time"
)

// FallbackTimezone approximates a time zone from longitude when no IANA zone is known.
// Etc/GMT names have inverted signs: 25°E -> UTC+2 -> "Etc/GMT-2".
func FallbackTimezone(lon float64) *time.Location {
	offset := int(math.RoundToEven(lon / 15))

	var name string
	if offset > 0 {
		name = fmt.Sprintf("Etc/GMT-%d", offset)
	} else {
		name = fmt.Sprintf("Etc/GMT+%d", -offset)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		// No tz database available
		return time.FixedZone(name, offset*3600)
	}
	return loc
}
