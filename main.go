package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"BMEServer/bme280"

	"github.com/aldernero/scd4x"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

type ProgramArgs struct {
	// Server Options
	Host string `short:"H" long:"host" env:"BME_HOST" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" env:"BME_PORT" default:"27315" description:"Port to listen on"`

	// Sensor Options
	I2CDevice string  `short:"D" long:"i2cdev" env:"BME_I2C_DEVICE" description:"The used I2C device (default: auto)"`
	Address   string  `short:"A" long:"address" env:"BME_ADDRESS" default:"0x77" description:"I2C address of the sensor (0x76 or 0x77)"`
	Reset     bool    `short:"R" long:"reset" env:"BME_RESET" description:"Soft reset the sensor before initializing it"`
	SCD4x     bool    `long:"scd4x" env:"BME_SCD4X" description:"Read CO2 from an SCD4x on the same bus"`
	SeaLevel  float64 `long:"sea-level" env:"BME_SEA_LEVEL" default:"1013.25" description:"Sea level pressure in hPa used for the altitude"`

	// Logging Options
	LogLevel string `long:"log-level" env:"BME_LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogJSON  bool   `long:"log-json" env:"BME_LOG_JSON" description:"Log as JSON instead of text"`
}

const (
	TIMEOUT_SECONDS = 2
)

// parseAddress accepts the sensor address in decimal or 0x prefixed hex.
func parseAddress(s string) (uint16, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid sensor address %q: %w", s, err)
	}
	switch a := uint16(addr); a {
	case bme280.DefaultAddress, bme280.AlternateAddress:
		return a, nil
	default:
		return 0, fmt.Errorf("invalid sensor address %q (allowed: 0x76, 0x77)", s)
	}
}

func getOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP, nil
}

func setupI2CBus(i2cdev string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	bus, err := i2creg.Open(i2cdev)
	if err != nil {
		return nil, fmt.Errorf("couldn't open I2C device: %w", err)
	}

	return bus, nil
}

// setupBMESensor returns the initialized device. the caller has the
// responsibility to close the bus
func setupBMESensor(bus i2c.Bus, addr uint16, reset bool, logger *slog.Logger) (*bme280.Dev, error) {
	dev, err := bme280.NewI2C(bus, addr, &bme280.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize sensor: %w", err)
	}

	if reset {
		logger.Info("resetting sensor", "sensor", dev.String())
		if err := dev.Reset(); err != nil {
			return nil, fmt.Errorf("couldn't reset sensor: %w", err)
		}
		if err := dev.Init(); err != nil {
			return nil, fmt.Errorf("couldn't initialize sensor after reset: %w", err)
		}
	}

	logger.Info("found sensor",
		"sensor", dev.String(),
		"chip_id", fmt.Sprintf("0x%02X", dev.ChipID()),
		"address", fmt.Sprintf("0x%02X", addr),
	)
	return dev, nil
}

func setupSCDSensor(bus i2c.BusCloser, logger *slog.Logger) (*scd4x.SCD4x, error) {
	sensor, err := scd4x.SensorInit(bus, false)
	if err != nil {
		return nil, err
	}

	logger.Info("initializing SCD4x")
	if err := sensor.StopMeasurements(); err != nil {
		return nil, fmt.Errorf("error while trying to stop periodic measurements: %w", err)
	}
	if err := sensor.StartMeasurements(); err != nil {
		return nil, fmt.Errorf("error while trying to start periodic measurements: %w", err)
	}

	return sensor, nil
}

func main() {
	// Values from .env only fill variables that are not already set.
	envErr := godotenv.Load()

	args := ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)
	if _, err := argParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger, err := newLogger(os.Stderr, args.LogLevel, args.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("couldn't load .env", "err", envErr)
	}

	if err := run(args, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(args ProgramArgs, logger *slog.Logger) error {
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	// Boring i2c setup
	bus, err := setupI2CBus(args.I2CDevice)
	if err != nil {
		return err
	}
	defer bus.Close()

	bmeDev, err := setupBMESensor(bus, addr, args.Reset, logger)
	if err != nil {
		return err
	}
	defer bmeDev.Halt()

	srv := &server{
		sensor:   bmeDev,
		seaLevel: args.SeaLevel,
		logger:   logger,
		now:      time.Now,
	}

	if args.SCD4x {
		scdDev, err := setupSCDSensor(bus, logger)
		if err != nil {
			return err
		}
		defer scdDev.StopMeasurements()

		srv.co2 = func() (uint16, float64, error) {
			data, err := scdDev.ReadMeasurement()
			if err != nil {
				return 0, 0, err
			}
			return data.CO2, data.Rh, nil
		}

		logger.Info("waking up the SCD4x")
		// give the sensor time to take its first measurement
		time.Sleep(1 * time.Second)
	}

	listen := fmt.Sprintf("%s:%d", args.Host, args.Port)
	httpSrv := &http.Server{
		Addr:         listen,
		ReadTimeout:  TIMEOUT_SECONDS * time.Second,
		WriteTimeout: TIMEOUT_SECONDS * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if args.Host == "0.0.0.0" {
			// resolve local IP for easier debugging
			if localIP, err := getOutboundIP(); err == nil {
				listen = fmt.Sprintf("%s:%d", localIP, args.Port)
			}
		}
		logger.Info("listening", "addr", listen)

		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Give the server a timeout period of 4 seconds
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	return httpSrv.Shutdown(shutdownCtx)
}
