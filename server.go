package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"BMEServer/bme280"
	"BMEServer/units"

	"github.com/gorilla/mux"
)

// envSensor is the part of *bme280.Dev used by the server.
type envSensor interface {
	String() string
	Init() error
	Reset() error
	ReadSensorData() (bme280.Reading, error)
	ChipID() byte
	Variant() bme280.Variant
}

// co2Reader returns the CO2 concentration in ppm and the relative humidity in
// %RH measured by the SCD4x.
type co2Reader func() (co2 uint16, rh float64, err error)

type server struct {
	sensor   envSensor
	co2      co2Reader // nil when no SCD4x is attached
	seaLevel float64   // hPa
	logger   *slog.Logger
	now      func() time.Time
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleReading).Methods(http.MethodGet)
	r.HandleFunc("/device", s.handleDevice).Methods(http.MethodGet)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Use(s.requestLogger)
	return r
}

// handleReading samples the sensor on every request; clients pick the
// polling cadence.
func (s *server) handleReading(w http.ResponseWriter, r *http.Request) {
	env, err := s.sensor.ReadSensorData()
	if err != nil {
		s.logger.Error("failed to read sensor", "sensor", s.sensor.String(), "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	reading := NewSensorReading(s.now())
	reading.Temperature = env.Temperature
	reading.TemperatureF = units.CelsiusToFahrenheit(env.Temperature)
	reading.Pressure = env.Pressure
	reading.PressureInHg = units.HectopascalToInchesOfMercury(env.Pressure)
	if env.Pressure > 0 {
		alt := units.AltitudeMeters(env.Pressure, s.seaLevel)
		altFt := units.MetersToFeet(alt)
		reading.Altitude = &alt
		reading.AltitudeFt = &altFt
	}
	if s.sensor.Variant().HasHumidity() {
		h := env.Humidity
		reading.Humidity = &h
	}

	if s.co2 != nil {
		co2, rh, err := s.co2()
		if err != nil {
			s.logger.Warn("failed to read SCD4x", "err", err)
		} else {
			reading.CO2 = co2
			if reading.Humidity == nil {
				reading.Humidity = &rh
			}
		}
	}

	// 0 %RH has no dew point.
	if reading.Humidity != nil && *reading.Humidity > 0 {
		dp := units.DewPointCelsius(env.Temperature, *reading.Humidity)
		hi := units.HeatIndexCelsius(env.Temperature, *reading.Humidity)
		reading.DewPoint = &dp
		reading.HeatIndex = &hi
	}

	s.writeJSON(w, http.StatusOK, reading)
}

func (s *server) handleDevice(w http.ResponseWriter, r *http.Request) {
	v := s.sensor.Variant()
	s.writeJSON(w, http.StatusOK, DeviceInfo{
		Name:     s.sensor.String(),
		ChipID:   fmt.Sprintf("0x%02X", s.sensor.ChipID()),
		Variant:  v.String(),
		Humidity: v.HasHumidity(),
		CO2:      s.co2 != nil,
	})
}

// handleReset soft resets the sensor and loads its calibration again.
func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sensor.Reset(); err != nil {
		s.logger.Error("failed to reset sensor", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if err := s.sensor.Init(); err != nil {
		s.logger.Error("failed to initialize sensor after reset", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("sensor reset", "sensor", s.sensor.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("couldn't send response", "err", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
