package record

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReadings() Readings {
	return Readings{
		TemperatureC:    25.5,
		HumidityPct:     60,
		CO2PPM:          500,
		FlammableGasPPM: 100,
		ToxicGasPPM:     80,
		UVIndex:         6,
		BatteryVoltage:  3.8,
	}
}

func TestNewAcceptsBoundaries(t *testing.T) {
	ts := time.Now()
	for _, tc := range []struct {
		name string
		temp float64
		hum  float64
	}{
		{"lower bounds", -50, 0},
		{"upper bounds", 100, 100},
		{"typical", 21.3, 45.5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := validReadings()
			r.TemperatureC = tc.temp
			r.HumidityPct = tc.hum

			rec, err := New(ts, r, GPS{})
			require.NoError(t, err)
			assert.Equal(t, tc.temp, rec.Readings().TemperatureC)
			assert.Equal(t, tc.hum, rec.Readings().HumidityPct)
			assert.True(t, rec.Timestamp().Equal(ts))
		})
	}
}

func TestNewRejectsOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		name  string
		mut   func(*Readings)
		field string
	}{
		{"hot", func(r *Readings) { r.TemperatureC = 200 }, "temperature_c"},
		{"cold", func(r *Readings) { r.TemperatureC = -50.01 }, "temperature_c"},
		{"nan temperature", func(r *Readings) { r.TemperatureC = math.NaN() }, "temperature_c"},
		{"negative humidity", func(r *Readings) { r.HumidityPct = -1 }, "humidity_pct"},
		{"humidity over 100", func(r *Readings) { r.HumidityPct = 100.5 }, "humidity_pct"},
		{"infinite battery", func(r *Readings) { r.BatteryVoltage = math.Inf(1) }, "battery_voltage"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := validReadings()
			tc.mut(&r)

			_, err := New(time.Now(), r, GPS{})
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestNewRejectsZeroTimestamp(t *testing.T) {
	_, err := New(time.Time{}, validReadings(), GPS{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)
}

func TestGPSIsCopied(t *testing.T) {
	lat := -19.869374
	sats := 10
	rec, err := New(time.Now(), validReadings(), GPS{Latitude: &lat, Satellites: &sats})
	require.NoError(t, err)

	lat = 0
	got := rec.GPS()
	*got.Satellites = 0

	require.NotNil(t, rec.GPS().Latitude)
	assert.Equal(t, -19.869374, *rec.GPS().Latitude)
	assert.Equal(t, 10, *rec.GPS().Satellites)
	assert.Nil(t, rec.GPS().Longitude)
}

func TestString(t *testing.T) {
	ts := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	rec, err := New(ts, validReadings(), GPS{})
	require.NoError(t, err)

	assert.Equal(t, "[14:05:09] T:25.5C H:60.0% CO2:500 GPS:-,-", rec.String())
}
