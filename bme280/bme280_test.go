package bme280

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

var sampleData = []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x75, 0x30}

// initOps is the bus traffic of Init on a device answering chipID.
func initOps(addr uint16, chipID byte) []i2ctest.IO {
	ops := []i2ctest.IO{
		{Addr: addr, W: []byte{AddrChipID}, R: []byte{chipID}},
		{Addr: addr, W: []byte{AddrCalTP}, R: calTP},
	}
	if chipID == ChipIDBME280 {
		ops = append(ops,
			i2ctest.IO{Addr: addr, W: []byte{AddrCalH1}, R: []byte{calH1}},
			i2ctest.IO{Addr: addr, W: []byte{AddrCalH2}, R: calH},
			i2ctest.IO{Addr: addr, W: []byte{AddrCtrlHum, 0x05, AddrCtrlMeas, 0xB7}},
		)
	} else {
		ops = append(ops, i2ctest.IO{Addr: addr, W: []byte{AddrCtrlMeas, 0xB7}})
	}
	return ops
}

func TestNewI2C_BME280(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: append(initOps(0x77, 0x60),
			i2ctest.IO{Addr: 0x77, W: []byte{AddrPressMSB}, R: sampleData},
		),
		DontPanic: true,
	}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := dev.String(); s != "BME280{playback(119)}" {
		t.Fatal(s)
	}
	if v := dev.Variant(); v != BME280 {
		t.Fatalf("Variant() = %s, want BME280", v)
	}
	if id := dev.ChipID(); id != ChipIDBME280 {
		t.Fatalf("ChipID() = %#x", id)
	}
	cal, ok := dev.Calibration()
	if !ok || cal.T1 != 27504 || cal.H4 != 313 {
		t.Fatalf("Calibration() = %+v, %t", cal, ok)
	}

	r, err := dev.ReadSensorData()
	if err != nil {
		t.Fatal(err)
	}
	if r.Temperature != 25.08 || !closeTo(r.Pressure, 1006.5325814481472) || !closeTo(r.Humidity, 55.000712804837015) {
		t.Fatalf("unexpected reading %+v", r)
	}
	if err := dev.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewI2C_BMP280(t *testing.T) {
	for _, id := range []byte{ChipIDBMP280S1, ChipIDBMP280S2, ChipIDBMP280} {
		bus := i2ctest.Playback{
			Ops: append(initOps(0x76, id),
				i2ctest.IO{Addr: 0x76, W: []byte{AddrPressMSB}, R: sampleData},
			),
			DontPanic: true,
		}
		dev, err := NewI2C(&bus, 0x76, nil)
		if err != nil {
			t.Fatalf("chip %#x: %v", id, err)
		}
		if v := dev.Variant(); v != BMP280 || v.HasHumidity() {
			t.Fatalf("chip %#x: Variant() = %s", id, v)
		}
		if cal, _ := dev.Calibration(); cal.HasHumidity() {
			t.Fatalf("chip %#x: unexpected humidity calibration", id)
		}
		r, err := dev.ReadSensorData()
		if err != nil {
			t.Fatal(err)
		}
		if r.Humidity != 0 || r.Temperature != 25.08 {
			t.Fatalf("chip %#x: unexpected reading %+v", id, r)
		}
		if err := bus.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewI2C_unknownChip(t *testing.T) {
	// No calibration read may happen after a bad chip ID.
	bus := i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x77, W: []byte{AddrChipID}, R: []byte{0x42}}},
		DontPanic: true,
	}
	dev, err := NewI2C(&bus, 0x77, nil)
	if !errors.Is(err, ErrUnknownChip) {
		t.Fatalf("got %v, want %v", err, ErrUnknownChip)
	}
	if dev != nil {
		t.Fatal("expected nil device")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewI2C_badAddress(t *testing.T) {
	bus := i2ctest.Playback{DontPanic: true}
	if dev, err := NewI2C(&bus, 0x42, nil); dev != nil || err == nil {
		t.Fatal("expected address to be rejected")
	}
}

func TestNewI2C_transportFailure(t *testing.T) {
	// The bus runs out of recorded operations during the calibration read.
	bus := i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x77, W: []byte{AddrChipID}, R: []byte{ChipIDBME280}}},
		DontPanic: true,
	}
	if _, err := NewI2C(&bus, 0x77, nil); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestNewI2C_opts(t *testing.T) {
	ops := initOps(0x77, 0x60)
	ops[len(ops)-1].W = []byte{AddrCtrlHum, byte(O1x), AddrCtrlMeas, byte(O2x)<<5 | byte(O4x)<<2 | 3}
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	if _, err := NewI2C(&bus, 0x77, &Opts{Temperature: O2x, Pressure: O4x, Humidity: O1x}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Reset(t *testing.T) {
	ops := initOps(0x77, 0x60)
	ops = append(ops, i2ctest.IO{Addr: 0x77, W: []byte{AddrReset, 0xB6}})
	ops = append(ops, initOps(0x77, 0x60)...)
	ops = append(ops, i2ctest.IO{Addr: 0x77, W: []byte{AddrPressMSB}, R: sampleData})
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}

	var slept []time.Duration
	defer func(f func(time.Duration)) { doSleep = f }(doSleep)
	doSleep = func(d time.Duration) { slept = append(slept, d) }

	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] < 2*time.Millisecond {
		t.Fatalf("Reset must wait for the start-up time, slept %v", slept)
	}
	if _, ok := dev.Calibration(); ok {
		t.Fatal("calibration must be dropped by Reset")
	}
	// No bus traffic happens until Init is called again.
	if _, err := dev.ReadSensorData(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want %v", err, ErrNotInitialized)
	}
	e := physic.Env{}
	if err := dev.Sense(&e); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want %v", err, ErrNotInitialized)
	}
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadSensorData(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Reset_failure(t *testing.T) {
	// The bus runs out of recorded operations on the reset command.
	bus := i2ctest.Playback{Ops: initOps(0x77, 0x60), DontPanic: true}
	slept := false
	defer func(f func(time.Duration)) { doSleep = f }(doSleep)
	doSleep = func(time.Duration) { slept = true }

	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Reset(); err == nil {
		t.Fatal("expected transport error")
	}
	if slept {
		t.Fatal("no wait expected when the reset command failed")
	}
	if _, err := dev.ReadSensorData(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want %v", err, ErrNotInitialized)
	}
}

func TestDev_Init_unknownChip(t *testing.T) {
	ops := initOps(0x77, 0x60)
	ops = append(ops, i2ctest.IO{Addr: 0x77, W: []byte{AddrChipID}, R: []byte{0x42}})
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}

	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Init(); !errors.Is(err, ErrUnknownChip) {
		t.Fatalf("got %v, want %v", err, ErrUnknownChip)
	}
	// The calibration of the previous chip must not be used any more.
	if _, err := dev.ReadSensorData(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want %v", err, ErrNotInitialized)
	}
	if _, ok := dev.Calibration(); ok {
		t.Fatal("calibration must be dropped by a failed Init")
	}
	if v, id := dev.Variant(), dev.ChipID(); v != BME280 || id != ChipIDBME280 {
		t.Fatalf("Variant() = %s, ChipID() = %#x; want the last good chip", v, id)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Init_calibrationFailure(t *testing.T) {
	// A BMP280 answers but the bus fails during the calibration read.
	ops := initOps(0x77, 0x60)
	ops = append(ops, i2ctest.IO{Addr: 0x77, W: []byte{AddrChipID}, R: []byte{ChipIDBMP280}})
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}

	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Init(); err == nil {
		t.Fatal("expected transport error")
	}
	if v := dev.Variant(); v != BME280 {
		t.Fatalf("Variant() = %s, want BME280", v)
	}
	if _, ok := dev.Calibration(); ok {
		t.Fatal("calibration must be dropped by a failed Init")
	}
	if _, err := dev.ReadSensorData(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want %v", err, ErrNotInitialized)
	}
}

func TestDev_Sense(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: append(initOps(0x77, 0x60),
			i2ctest.IO{Addr: 0x77, W: []byte{AddrPressMSB}, R: sampleData},
		),
		DontPanic: true,
	}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{}
	if err := dev.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := 25080*physic.MilliCelsius + physic.ZeroCelsius; e.Temperature != want {
		t.Fatalf("Temperature = %s, want %s", e.Temperature, want)
	}
	if e.Pressure < 1006530*physic.MilliPascal*100 || e.Pressure > 1006540*physic.MilliPascal*100 {
		t.Fatalf("Pressure = %s", e.Pressure)
	}
	if e.Humidity < 55*physic.PercentRH || e.Humidity > 55*physic.PercentRH+physic.MilliRH {
		t.Fatalf("Humidity = %s", e.Humidity)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_readFailure(t *testing.T) {
	bus := i2ctest.Playback{Ops: initOps(0x77, 0x60), DontPanic: true}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := dev.ReadSensorData()
	if err == nil {
		t.Fatal("expected transport error")
	}
	if r != (Reading{}) {
		t.Fatalf("got %+v on error", r)
	}
}

func TestIdentify(t *testing.T) {
	data := []struct {
		id   byte
		want Variant
		err  error
	}{
		{0x60, BME280, nil},
		{0x56, BMP280, nil},
		{0x57, BMP280, nil},
		{0x58, BMP280, nil},
		{0x42, UnknownVariant, ErrUnknownChip},
		{0x61, UnknownVariant, ErrUnknownChip},
		{0x00, UnknownVariant, ErrUnknownChip},
	}
	for _, line := range data {
		v, err := Identify(line.id)
		if v != line.want || !errors.Is(err, line.err) {
			t.Errorf("Identify(%#x) = %s, %v; want %s, %v", line.id, v, err, line.want, line.err)
		}
	}
}

func TestOversampling_String(t *testing.T) {
	data := []struct {
		o    Oversampling
		want string
	}{
		{Off, "Off"},
		{O1x, "1x"},
		{O16x, "16x"},
		{Oversampling(100), "Oversampling(100)"},
	}
	for _, line := range data {
		if s := line.o.String(); s != line.want {
			t.Errorf("%d: %q != %q", line.o, s, line.want)
		}
	}
}
