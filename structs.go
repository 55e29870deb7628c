package main

import (
	"time"
)

type SensorReading struct {
	Temperature  float64 `json:"temperature"`
	TemperatureF float64 `json:"temperatureF"`
	Pressure     float64 `json:"pressure"`
	PressureInHg float64 `json:"pressureInHg"`

	// Altitude is omitted while the pressure calibration is degenerate.
	Altitude   *float64 `json:"altitude,omitempty"`
	AltitudeFt *float64 `json:"altitudeFt,omitempty"`

	// Humidity and the values derived from it are omitted on a BMP280
	// without an SCD4x.
	Humidity  *float64 `json:"humidity,omitempty"`
	DewPoint  *float64 `json:"dewPoint,omitempty"`
	HeatIndex *float64 `json:"heatIndex,omitempty"`

	CO2        uint16    `json:"co2,omitempty"`
	Updated    time.Time `json:"-"`
	UpdatedStr string    `json:"updated"`
}

func NewSensorReading(date time.Time) SensorReading {
	return SensorReading{
		Updated:    date,
		UpdatedStr: date.Format("2006-01-02 15:04:05"), // ISO 8601 without timezone
	}
}

type DeviceInfo struct {
	Name     string `json:"name"`
	ChipID   string `json:"chipId"`
	Variant  string `json:"variant"`
	Humidity bool   `json:"humidity"`
	CO2      bool   `json:"co2"`
}

type errorResponse struct {
	Error string `json:"error"`
}
