package ephem

import (
	"math"
)

// kmPerAU is the astronomical unit in kilometers
const kmPerAU = 149597870.7

// sunPosition returns the Sun's apparent geocentric longitude (degrees) and
// distance (km) at T centuries TT. Accuracy is about 0.01 degrees.
func sunPosition(T float64) (lon, distanceKm float64) {
	// Mean longitude
	L0 := normalize360(280.46646 + 36000.76983*T + 0.0003032*T*T)

	// Mean anomaly
	M := normalize360(357.52911 + 35999.05029*T - 0.0001537*T*T)
	Mrad := degToRad(M)

	// Equation of center
	C := (1.914602 - 0.004817*T - 0.000014*T*T) * math.Sin(Mrad)
	C += (0.019993 - 0.000101*T) * math.Sin(2*Mrad)
	C += 0.000289 * math.Sin(3*Mrad)

	trueLon := L0 + C
	v := degToRad(M + C)

	e := 0.016708634 - 0.000042037*T - 0.0000001267*T*T
	R := 1.000001018 * (1 - e*e) / (1 + e*math.Cos(v))

	// Aberration and nutation
	omega := 125.04 - 1934.136*T
	lon = normalize360(trueLon - 0.00569 - 0.00478*math.Sin(degToRad(omega)))
	return lon, R * kmPerAU
}
