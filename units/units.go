// Package units converts compensated sensor readings into derived quantities.
package units

import "math"

// StandardSeaLevel is the ICAO standard atmosphere pressure at sea level, in
// hPa.
const StandardSeaLevel = 1013.25

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// HectopascalToInchesOfMercury converts hPa to inHg.
func HectopascalToInchesOfMercury(hPa float64) float64 {
	return hPa * 0.02952998751
}

// MetersToFeet converts m to ft.
func MetersToFeet(m float64) float64 {
	return m * 3.28084
}

// HeatIndexCelsius returns the apparent temperature in °C.
//
// It uses the Rothfusz regression with metric coefficients and is only
// meaningful above about 27 °C and 40 %RH.
func HeatIndexCelsius(t, rh float64) float64 {
	return -8.784695 + 1.61139411*t + 2.33854900*rh +
		-0.14611605*t*rh + -0.01230809*math.Pow(t, 2) +
		-0.01642482*math.Pow(rh, 2) + 0.00221173*math.Pow(t, 2)*rh +
		0.00072546*t*math.Pow(rh, 2) +
		-0.00000358*math.Pow(t, 2)*math.Pow(rh, 2)
}

// DewPointCelsius returns the dew point in °C with the Magnus formula.
//
// rh must be above 0; 0 %RH has no dew point and yields -Inf or NaN.
func DewPointCelsius(t, rh float64) float64 {
	gamma := math.Log(rh/100) + 17.625*t/(243.04+t)
	return 243.04 * gamma / (17.625 - gamma)
}

// AltitudeMeters returns the altitude in m at which the pressure p (hPa) is
// expected given the pressure at sea level. A seaLevel of 0 or below uses
// StandardSeaLevel.
func AltitudeMeters(p, seaLevel float64) float64 {
	if seaLevel <= 0 {
		seaLevel = StandardSeaLevel
	}
	return (1 - math.Pow(p/seaLevel, 1/5.2553)) * 145366.45 * 0.3048
}
