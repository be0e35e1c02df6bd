package record

import (
	"fmt"
	"math"
	"time"
)

// Fyzikální limity senzorů. Hodnoty mimo rozsah znamenají vadné čidlo,
// ne skutečné počasí, a nesmí se dostat do databáze.
const (
	MinTemperatureC = -50.0
	MaxTemperatureC = 100.0
	MinHumidityPct  = 0.0
	MaxHumidityPct  = 100.0
)

// Readings jsou povinné hodnoty jednoho měření meteostanice.
type Readings struct {
	TemperatureC    float64 // DHT22
	HumidityPct     float64 // DHT22
	CO2PPM          float64 // SCD40
	FlammableGasPPM float64 // MQ-9
	ToxicGasPPM     float64 // MQ-135
	UVIndex         float64 // GUVA-S12SD
	BatteryVoltage  float64
}

// GPS drží volitelná data z modulu LC76G.
// Používáme pointery: nil = hodnota v payloadu chyběla (nebo byla null).
// Každé pole je nezávislé, částečný fix je v pořádku.
type GPS struct {
	Latitude   *float64
	Longitude  *float64
	AltitudeM  *float64
	Satellites *int
	FixQuality *int
}

// Record je jedno zvalidované měření. Pole jsou neexportovaná,
// takže jediná cesta k instanci vede přes New (a tedy přes validaci).
type Record struct {
	timestamp time.Time
	readings  Readings
	gps       GPS
}

// New ověří invarianty a vrátí neměnný Record, nebo *ValidationError.
func New(ts time.Time, r Readings, gps GPS) (Record, error) {
	if ts.IsZero() {
		return Record{}, &ValidationError{Field: "timestamp", Value: ts, Reason: "missing timestamp"}
	}

	// Negované porovnání chytí i NaN (každé porovnání s NaN je false).
	if !(r.TemperatureC >= MinTemperatureC && r.TemperatureC <= MaxTemperatureC) {
		return Record{}, outOfRange("temperature_c", r.TemperatureC, MinTemperatureC, MaxTemperatureC)
	}
	if !(r.HumidityPct >= MinHumidityPct && r.HumidityPct <= MaxHumidityPct) {
		return Record{}, outOfRange("humidity_pct", r.HumidityPct, MinHumidityPct, MaxHumidityPct)
	}

	finite := []struct {
		name string
		v    float64
	}{
		{"air_quality_co2_ppm", r.CO2PPM},
		{"flammable_gas_ppm", r.FlammableGasPPM},
		{"toxic_gas_ppm", r.ToxicGasPPM},
		{"uv_index", r.UVIndex},
		{"battery_voltage", r.BatteryVoltage},
	}
	for _, f := range finite {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Record{}, &ValidationError{Field: f.name, Value: f.v, Reason: "not a finite number"}
		}
	}
	for name, p := range map[string]*float64{
		"gps_latitude":   gps.Latitude,
		"gps_longitude":  gps.Longitude,
		"gps_altitude_m": gps.AltitudeM,
	} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			return Record{}, &ValidationError{Field: name, Value: *p, Reason: "not a finite number"}
		}
	}

	return Record{timestamp: ts, readings: r, gps: gps.clone()}, nil
}

func (r Record) Timestamp() time.Time { return r.timestamp }
func (r Record) Readings() Readings   { return r.readings }

// GPS vrací kopii, aby volající nemohl přes pointery změnit uložený záznam.
func (r Record) GPS() GPS { return r.gps.clone() }

// String vrací krátký jednořádkový popis pro logy.
func (r Record) String() string {
	lat, lon := "-", "-"
	if r.gps.Latitude != nil {
		lat = fmt.Sprintf("%.6f", *r.gps.Latitude)
	}
	if r.gps.Longitude != nil {
		lon = fmt.Sprintf("%.6f", *r.gps.Longitude)
	}
	return fmt.Sprintf("[%s] T:%.1fC H:%.1f%% CO2:%.0f GPS:%s,%s",
		r.timestamp.Format("15:04:05"),
		r.readings.TemperatureC,
		r.readings.HumidityPct,
		r.readings.CO2PPM,
		lat, lon,
	)
}

func (g GPS) clone() GPS {
	return GPS{
		Latitude:   clonePtr(g.Latitude),
		Longitude:  clonePtr(g.Longitude),
		AltitudeM:  clonePtr(g.AltitudeM),
		Satellites: clonePtr(g.Satellites),
		FixQuality: clonePtr(g.FixQuality),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
