package ephem

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
)

// SynodicMonth is the mean length of a lunation in days
const SynodicMonth = 29.530588853

const (
	earthRadiusKm = 6378.14
	polarRatio    = 0.99664719 // b/a of the reference ellipsoid
)

// Model is the analytic ephemeris. It satisfies engine.Ephemeris,
// engine.IlluminationProvider and engine.PhaseCalendar, and is safe for
// concurrent use since it holds no state.
type Model struct{}

// New returns the analytic ephemeris
func New() *Model {
	return &Model{}
}

// Position returns the Moon's topocentric elevation and azimuth (north = 0, east = 90).
// Atmospheric refraction is not applied.
func (m *Model) Position(loc engine.Location, t time.Time) (float64, float64, error) {
	lat, lon := loc.Latitude, loc.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("invalid observer coordinates %.4f, %.4f", lat, lon)
	}

	T := centuries(t)
	moon := moonPosition(T)
	nutLon, obliquity := nutation(T)
	ra, dec := eclipticToEquatorial(moon.lon+nutLon, moon.lat, obliquity)

	lst := degToRad(normalize360(greenwichSidereal(t, nutLon, obliquity) + lon))
	phi := degToRad(lat)

	// Geocentric Moon vector in Earth radii
	dist := moon.distanceKm / earthRadiusKm
	raRad, decRad := degToRad(ra), degToRad(dec)
	x := dist * math.Cos(decRad) * math.Cos(raRad)
	y := dist * math.Cos(decRad) * math.Sin(raRad)
	z := dist * math.Sin(decRad)

	// Observer on the ellipsoid surface, sea level
	u := math.Atan(polarRatio * math.Tan(phi))
	rhoSin := polarRatio * math.Sin(u)
	rhoCos := math.Cos(u)
	x -= rhoCos * math.Cos(lst)
	y -= rhoCos * math.Sin(lst)
	z -= rhoSin

	topoRA := math.Atan2(y, x)
	topoDec := math.Atan2(z, math.Hypot(x, y))
	H := lst - topoRA

	sinAlt := math.Sin(phi)*math.Sin(topoDec) + math.Cos(phi)*math.Cos(topoDec)*math.Cos(H)
	elevation := radToDeg(math.Asin(math.Max(-1, math.Min(1, sinAlt))))

	azimuth := radToDeg(math.Atan2(
		-math.Cos(topoDec)*math.Sin(H),
		math.Sin(topoDec)*math.Cos(phi)-math.Cos(topoDec)*math.Sin(phi)*math.Cos(H),
	))
	return elevation, normalize360(azimuth), nil
}

// Distance returns the geocentric Earth-Moon distance in kilometers
func (m *Model) Distance(t time.Time) (float64, error) {
	return moonPosition(centuries(t)).distanceKm, nil
}

// Phase computes the illuminated fraction and age of the Moon at t
func (m *Model) Phase(t time.Time) engine.Phase {
	T := centuries(t)
	moon := moonPosition(T)
	nutLon, _ := nutation(T)
	sunLon, sunKm := sunPosition(T)
	moonLon := moon.lon + nutLon

	// Geocentric elongation, then the phase angle seen from the Moon
	cosPsi := math.Cos(degToRad(moon.lat)) * math.Cos(degToRad(moonLon-sunLon))
	psi := math.Acos(math.Max(-1, math.Min(1, cosPsi)))
	i := math.Atan2(sunKm*math.Sin(psi), moon.distanceKm-sunKm*math.Cos(psi))

	return engine.Phase{
		Fraction: (1 + math.Cos(i)) / 2,
		AgeDays:  normalize360(moonLon-sunLon) / 360 * SynodicMonth,
	}
}

// Illumination implements engine.IlluminationProvider without any network access
func (m *Model) Illumination(ctx context.Context, unix int64) (engine.Phase, error) {
	if err := ctx.Err(); err != nil {
		return engine.Phase{}, err
	}
	return m.Phase(time.Unix(unix, 0).UTC()), nil
}

// fullMoonStep is the coarse search step; the Moon gains ~3 degrees on the Sun per 6h
const fullMoonStep = 6 * time.Hour

// FullMoons returns up to n full moons after start, looking no further than within.
// Each is located by bracketing the opposition and bisecting to one minute.
func (m *Model) FullMoons(start time.Time, n int, within time.Duration) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	end := start.Add(within)

	var moons []time.Time
	prevT := start.UTC()
	prev := m.opposition(prevT)
	for t := prevT.Add(fullMoonStep); !t.After(end) && len(moons) < n; t = t.Add(fullMoonStep) {
		cur := m.opposition(t)
		if crossesUp(prev, cur) {
			moons = append(moons, m.bisectOpposition(prevT, t, prev))
		}
		prevT, prev = t, cur
	}
	return moons, nil
}

// opposition is the Moon-Sun longitude difference minus 180, in [-180, 180)
func (m *Model) opposition(t time.Time) float64 {
	T := centuries(t)
	moon := moonPosition(T)
	nutLon, _ := nutation(T)
	sunLon, _ := sunPosition(T)
	return normalize180(moon.lon + nutLon - sunLon - 180)
}

// crossesUp detects the zero crossing while ignoring the wrap at new moon
func crossesUp(a, b float64) bool {
	return a < 0 && b >= 0 && math.Abs(a) < 90 && math.Abs(b) < 90
}

func (m *Model) bisectOpposition(a, b time.Time, fa float64) time.Time {
	for b.Sub(a) > time.Minute {
		mid := a.Add(b.Sub(a) / 2)
		fm := m.opposition(mid)
		if crossesUp(fa, fm) {
			b = mid
		} else {
			a, fa = mid, fm
		}
	}
	return a.Add(b.Sub(a) / 2).Truncate(time.Second)
}
