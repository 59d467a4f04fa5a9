// Package ephem computes lunar and solar positions from truncated analytic
// series (Meeus, Astronomical Algorithms, chapters 12, 22, 25, 47 and 48).
package ephem

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// deltaT approximates TT - UT for the current decade
const deltaT = 69 * time.Second

// JulianDate converts a time.Time (UTC) to Julian Date.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Jan/Feb count as months 13/14 of the previous year
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0
	return jd
}

// centuries returns Julian centuries of dynamical time since J2000
func centuries(t time.Time) float64 {
	return (JulianDate(t.Add(deltaT)) - j2000) / 36525.0
}

// greenwichSidereal returns apparent Greenwich sidereal time in degrees
func greenwichSidereal(t time.Time, nutLon, obliquity float64) float64 {
	jd := JulianDate(t)
	T := (jd - j2000) / 36525.0
	theta := 280.46061837 + 360.98564736629*(jd-j2000) +
		0.000387933*T*T - T*T*T/38710000.0
	return normalize360(theta + nutLon*math.Cos(degToRad(obliquity)))
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

func normalize360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// normalize180 maps an angle into [-180, 180)
func normalize180(deg float64) float64 {
	deg = normalize360(deg + 180)
	return deg - 180
}
