package bme280

import (
	"errors"
	"fmt"
)

// Calibration holds the factory trimming parameters of one device.
//
// The field names follow the dig_XX names of the datasheet. A Calibration is
// never modified after ParseCalibration returns it, so it can be shared
// between goroutines.
type Calibration struct {
	T1     uint16
	T2, T3 int16

	P1                             uint16
	P2, P3, P4, P5, P6, P7, P8, P9 int16

	H1     uint8
	H2     int16
	H3     uint8
	H4, H5 int16 // 12 bits, sign extended
	H6     uint8

	humidity bool
}

const (
	calTPLen = 24 // 0x88~0x9F
	calHLen  = 7  // 0xE1~0xE7
)

var errCalibrationLen = errors.New("bme280: malformed calibration block")

// ParseCalibration decodes the calibration registers.
//
// tp is the 24 byte block starting at 0x88, h1 is the byte at 0xA1 and h is
// the 7 byte block starting at 0xE1. h is nil for a BMP280, which has no
// humidity sensor; h1 is then ignored.
func ParseCalibration(tp []byte, h1 byte, h []byte) (*Calibration, error) {
	if len(tp) != calTPLen {
		return nil, fmt.Errorf("%w: got %d temperature/pressure bytes, want %d", errCalibrationLen, len(tp), calTPLen)
	}
	if h != nil && len(h) != calHLen {
		return nil, fmt.Errorf("%w: got %d humidity bytes, want %d", errCalibrationLen, len(h), calHLen)
	}

	// Registers are stored LSB first.
	c := &Calibration{
		T1: uint16BE(tp[1], tp[0]),
		T2: int16BE(tp[3], tp[2]),
		T3: int16BE(tp[5], tp[4]),

		P1: uint16BE(tp[7], tp[6]),
		P2: int16BE(tp[9], tp[8]),
		P3: int16BE(tp[11], tp[10]),
		P4: int16BE(tp[13], tp[12]),
		P5: int16BE(tp[15], tp[14]),
		P6: int16BE(tp[17], tp[16]),
		P7: int16BE(tp[19], tp[18]),
		P8: int16BE(tp[21], tp[20]),
		P9: int16BE(tp[23], tp[22]),
	}
	if h == nil {
		return c, nil
	}

	c.H1 = h1
	c.H2 = int16BE(h[1], h[0])
	c.H3 = h[2]
	// 0xE5 is shared: its low nibble belongs to H4, its high nibble to H5.
	c.H4 = int16(int8(h[3]))<<4 | int16(h[4]&0x0F)
	c.H5 = int16(int8(h[5]))<<4 | int16(h[4]>>4)
	c.H6 = h[6]
	c.humidity = true
	return c, nil
}

// HasHumidity reports whether the humidity parameters were loaded.
func (c *Calibration) HasHumidity() bool {
	return c.humidity
}

func uint16BE(msb, lsb byte) uint16 {
	return uint16(msb)<<8 | uint16(lsb)
}

// int16BE is the two's complement interpretation of uint16BE.
func int16BE(msb, lsb byte) int16 {
	return int16(uint16BE(msb, lsb))
}

// uint20BE assembles a 20 bits ADC value; the low nibble of xlsb is unused.
func uint20BE(msb, lsb, xlsb byte) uint32 {
	return uint32(msb)<<12 | uint32(lsb)<<4 | uint32(xlsb)>>4
}
