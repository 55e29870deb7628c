package bme280

import "fmt"

// RawSample is the uncompensated ADC output of one measurement.
type RawSample struct {
	Pressure    uint32 // 20 bits
	Temperature uint32 // 20 bits
	Humidity    uint16
}

const dataLen = 8 // 0xF7~0xFE

// ParseRawSample decodes the data block read from 0xF7:
// press_msb, press_lsb, press_xlsb, temp_msb, temp_lsb, temp_xlsb, hum_msb,
// hum_lsb.
func ParseRawSample(b []byte) (RawSample, error) {
	if len(b) != dataLen {
		return RawSample{}, fmt.Errorf("bme280: got %d data bytes, want %d", len(b), dataLen)
	}
	return RawSample{
		Pressure:    uint20BE(b[0], b[1], b[2]),
		Temperature: uint20BE(b[3], b[4], b[5]),
		Humidity:    uint16BE(b[6], b[7]),
	}, nil
}

// Reading is a compensated measurement.
type Reading struct {
	// Temperature in °C, resolution is 0.01 °C.
	Temperature float64 `json:"temperature_C"`
	// Pressure in hPa. It is 0 when the calibration is degenerate.
	Pressure float64 `json:"pressure_hPa"`
	// Humidity in %RH, always within [0, 100]. It is 0 on a BMP280.
	Humidity float64 `json:"humidity"`
}

// Compensate converts raw into physical units.
//
// Temperature is computed first since its fine resolution value feeds both
// the pressure and the humidity formulas.
func Compensate(raw RawSample, cal *Calibration) (Reading, error) {
	if cal == nil {
		return Reading{}, ErrNotInitialized
	}
	var r Reading
	var tFine int32
	r.Temperature, tFine = cal.CompensateTemperature(raw.Temperature)
	r.Pressure = cal.CompensatePressure(raw.Pressure, tFine)
	if cal.HasHumidity() {
		r.Humidity = cal.CompensateHumidity(raw.Humidity, tFine)
	}
	return r, nil
}

// CompensateTemperature returns the temperature in °C and t_fine.
//
// This is the 32 bits fixed point formula of the datasheet; >> on the signed
// intermediates is an arithmetic shift. Output resolution is 0.01 °C, a
// t_fine of 128422 is 25.08 °C.
func (c *Calibration) CompensateTemperature(raw uint32) (float64, int32) {
	adc := int32(raw)
	t1 := int32(c.T1)
	var1 := (((adc >> 3) - (t1 << 1)) * int32(c.T2)) >> 11
	var2 := (((((adc >> 4) - t1) * ((adc >> 4) - t1)) >> 12) * int32(c.T3)) >> 14
	tFine := var1 + var2
	centi := (tFine*5 + 128) >> 8
	return float64(centi) / 100, tFine
}

// CompensatePressure returns the pressure in hPa.
//
// raw has 20 bits of resolution.
func (c *Calibration) CompensatePressure(raw uint32, tFine int32) float64 {
	var1 := float64(tFine)/2 - 64000
	var2 := var1 * var1 * float64(c.P6) / 32768
	var2 = var2 + var1*float64(c.P5)*2
	var2 = var2/4 + float64(c.P4)*65536
	var1 = (float64(c.P3)*var1*var1/524288 + float64(c.P2)*var1) / 524288
	var1 = (1 + var1/32768) * float64(c.P1)
	if var1 == 0 {
		// Avoid a division by zero on a blank calibration.
		return 0
	}
	p := 1048576 - float64(raw)
	p = ((p - var2/4096) * 6250) / var1
	var1 = float64(c.P9) * p * p / 2147483648
	var2 = p * float64(c.P8) / 32768
	p = p + (var1+var2+float64(c.P7))/16
	return p / 100
}

// CompensateHumidity returns the relative humidity in %RH, clamped to
// [0, 100].
//
// raw has 16 bits of resolution.
func (c *Calibration) CompensateHumidity(raw uint16, tFine int32) float64 {
	h := float64(tFine) - 76800
	h = (float64(raw) - (float64(c.H4)*64 + float64(c.H5)/16384*h)) *
		(float64(c.H2) / 65536 * (1 + float64(c.H6)/67108864*h*(1+float64(c.H3)/67108864*h)))
	h = h * (1 - float64(c.H1)*h/524288)
	switch {
	case h > 100:
		return 100
	case h < 0:
		return 0
	}
	return h
}
