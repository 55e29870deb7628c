// Package bme280 controls a Bosch BME280 or BMP280 environmental sensor over
// I²C.
//
// The BME280 measures temperature, pressure and humidity; the BMP280 only
// temperature and pressure. The variant is detected from the chip ID.
//
// # Datasheets
//
// BME280:
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
//
// BMP280:
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf
package bme280

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	AddrChipID byte = 0xD0 // read-only
	AddrReset  byte = 0xE0 // write-only, see resetCmd

	// calibration ranges

	AddrCalTP byte = 0x88 // 24 bytes, dig_T1~dig_P9
	AddrCalH1 byte = 0xA1
	AddrCalH2 byte = 0xE1 // 7 bytes, dig_H2~dig_H6

	// control registers

	AddrCtrlHum  byte = 0xF2
	AddrCtrlMeas byte = 0xF4

	// data registers

	AddrPressMSB byte = 0xF7 // 8 bytes, pressure then temperature then humidity
	AddrTempMSB  byte = 0xFA
	AddrHumMSB   byte = 0xFD
)

// Chip IDs as read from AddrChipID.
const (
	ChipIDBME280   byte = 0x60
	ChipIDBMP280S1 byte = 0x56 // samples
	ChipIDBMP280S2 byte = 0x57
	ChipIDBMP280   byte = 0x58 // mass production
)

// I²C addresses, selected by the SDO pin.
const (
	DefaultAddress   uint16 = 0x77
	AlternateAddress uint16 = 0x76
)

const resetCmd byte = 0xB6

// startupTime covers the 2ms start-up time after a power-on reset.
const startupTime = 10 * time.Millisecond

var (
	// ErrUnknownChip is returned when the chip ID register holds a value
	// that is neither a BME280 nor a BMP280.
	ErrUnknownChip = errors.New("bme280: unexpected chip id")
	// ErrNotInitialized is returned when a measurement is requested before
	// the calibration was loaded, either before Init or after Reset.
	ErrNotInitialized = errors.New("bme280: calibration not loaded, call Init first")
)

// Variant is the detected device type.
type Variant uint8

const (
	UnknownVariant Variant = iota
	BME280
	BMP280
)

func (v Variant) String() string {
	switch v {
	case BME280:
		return "BME280"
	case BMP280:
		return "BMP280"
	default:
		return fmt.Sprintf("Variant(%d)", v)
	}
}

// HasHumidity reports whether the variant has a humidity sensor.
func (v Variant) HasHumidity() bool {
	return v == BME280
}

// Identify maps a chip ID to a Variant.
func Identify(chipID byte) (Variant, error) {
	switch chipID {
	case ChipIDBME280:
		return BME280, nil
	case ChipIDBMP280S1, ChipIDBMP280S2, ChipIDBMP280:
		return BMP280, nil
	default:
		return UnknownVariant, fmt.Errorf("%w 0x%02X", ErrUnknownChip, chipID)
	}
}

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity.
type Oversampling uint8

// Possible oversampling values.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

// mode is the operating mode.
type mode byte

// normal is perpetual cycling of measurements and inactive periods.
const normal mode = 3

// DefaultOpts is 16x oversampling for every measurement.
var DefaultOpts = Opts{
	Temperature: O16x,
	Pressure:    O16x,
	Humidity:    O16x,
}

// Opts defines the options for the device.
//
// The device is always run in normal mode so that the data registers hold
// the latest measurement whenever they are read.
type Opts struct {
	Temperature Oversampling
	Pressure    Oversampling
	// Humidity is ignored on a BMP280.
	Humidity Oversampling
}

func (o *Opts) ctrlMeas() byte {
	return byte(o.Temperature)<<5 | byte(o.Pressure)<<2 | byte(normal)
}

// NewI2C returns an initialized handle to a BME280 or BMP280 on the bus.
//
// The address must be 0x76 or 0x77. The value used depends on HW
// configuration of the sensor's SDO pin. opts may be nil to use
// DefaultOpts.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case DefaultAddress, AlternateAddress:
	default:
		return nil, fmt.Errorf("bme280: given address 0x%02X not supported by device", addr)
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, opts: *opts, name: "BMx280"}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a BME280 or BMP280 device.
//
// The methods are safe for concurrent use.
type Dev struct {
	d    conn.Conn
	opts Opts

	mu      sync.Mutex
	name    string
	chipID  byte
	variant Variant
	cal     *Calibration
}

func (d *Dev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("%s{%s}", d.name, d.d)
}

// Init identifies the chip, loads its calibration and starts measuring in
// normal mode.
//
// It must be called again after Reset. On failure the device is left
// uninitialized and measurements return ErrNotInitialized.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal = nil

	var chipID [1]byte
	if err := d.readReg(AddrChipID, chipID[:]); err != nil {
		return err
	}
	variant, err := Identify(chipID[0])
	if err != nil {
		return err
	}

	var tp [calTPLen]byte
	if err := d.readReg(AddrCalTP, tp[:]); err != nil {
		return err
	}
	var h1 [1]byte
	var h []byte
	if variant.HasHumidity() {
		if err := d.readReg(AddrCalH1, h1[:]); err != nil {
			return err
		}
		h = make([]byte, calHLen)
		if err := d.readReg(AddrCalH2, h); err != nil {
			return err
		}
	}
	cal, err := ParseCalibration(tp[:], h1[0], h)
	if err != nil {
		return d.wrap(err)
	}

	var b []byte
	if variant.HasHumidity() {
		// ctrl_hum only takes effect after ctrl_meas is written.
		b = append(b, AddrCtrlHum, byte(d.opts.Humidity))
	}
	b = append(b, AddrCtrlMeas, d.opts.ctrlMeas())
	if err := d.writeCommands(b); err != nil {
		return err
	}
	d.chipID = chipID[0]
	d.variant = variant
	d.name = variant.String()
	d.cal = cal
	return nil
}

// Reset performs a power-on reset of the device and waits for it to copy
// its NVM back into the registers.
//
// The cached calibration is dropped; Init must be called before the next
// measurement.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal = nil
	if err := d.writeCommands([]byte{AddrReset, resetCmd}); err != nil {
		return err
	}
	doSleep(startupTime)
	return nil
}

// ReadSensorData reads the data registers in a single burst and returns the
// compensated measurement.
func (d *Dev) ReadSensorData() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal == nil {
		return Reading{}, ErrNotInitialized
	}

	var buf [dataLen]byte
	if err := d.readReg(AddrPressMSB, buf[:]); err != nil {
		return Reading{}, err
	}
	raw, err := ParseRawSample(buf[:])
	if err != nil {
		return Reading{}, d.wrap(err)
	}
	return Compensate(raw, d.cal)
}

// Sense reads a measurement into e.
//
// Humidity is left untouched on a BMP280.
func (d *Dev) Sense(e *physic.Env) error {
	r, err := d.ReadSensorData()
	if err != nil {
		return err
	}
	// Reading.Temperature holds whole hundredths of a degree.
	centi := int64(math.Round(r.Temperature * 100))
	e.Temperature = physic.Temperature(centi)*10*physic.MilliCelsius + physic.ZeroCelsius
	e.Pressure = physic.Pressure(r.Pressure * float64(HectoPascal))
	if d.Variant().HasHumidity() {
		e.Humidity = physic.RelativeHumidity(r.Humidity * float64(physic.PercentRH))
	}
	return nil
}

// ChipID returns the value read from the chip ID register by Init.
func (d *Dev) ChipID() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chipID
}

// Variant returns the detected device type.
func (d *Dev) Variant() Variant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.variant
}

// Calibration returns a copy of the loaded calibration. ok is false before
// Init and after Reset.
func (d *Dev) Calibration() (c Calibration, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal == nil {
		return Calibration{}, false
	}
	return *d.cal, true
}

// Halt implements conn.Resource.
//
// The device keeps sampling in normal mode; use Reset to stop it.
func (d *Dev) Halt() error {
	return nil
}

// HectoPascal is the unit reported by Reading.Pressure.
const HectoPascal = 100 * physic.Pascal

func (d *Dev) readReg(reg uint8, b []byte) error {
	if err := d.d.Tx([]byte{reg}, b); err != nil {
		return d.wrap(err)
	}
	return nil
}

// writeCommands writes register/value pairs to the device.
func (d *Dev) writeCommands(b []byte) error {
	if err := d.d.Tx(b, nil); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

var doSleep = time.Sleep

var _ conn.Resource = &Dev{}
