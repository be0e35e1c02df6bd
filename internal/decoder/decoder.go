package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"weather-station/internal/record"
)

// DecodeError znamená, že payload vůbec není čitelný JSON objekt.
// Obsahově špatná data (chybějící klíč, typ, rozsah) vrací record.ValidationError.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode failed: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Klíče, které posílá firmware meteostanice. Schéma je pevné, bez verze.
var requiredKeys = []string{
	"temperature", "humidity", "co2", "flammable_gas", "toxic_gas", "uv_index", "battery",
}

// optional je mezivrstva "hodnota je / hodnota není".
// Rozlišuje chybějící klíč (nebo null) od nuly, kterou by jinak vrátil float64.
type optional[T any] struct {
	value T
	ok    bool
}

func (o optional[T]) ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.value
	return &v
}

// wireReading je typovaná podoba payloadu po parsování, ještě před validací.
type wireReading struct {
	required map[string]float64

	latitude   optional[float64]
	longitude  optional[float64]
	altitude   optional[float64]
	satellites optional[int]
	fixQuality optional[int]
}

// Decoder převádí MQTT payload na record.Record.
// Čas měření NEBEREME z payloadu (ESP32 nemá spolehlivé hodiny),
// ale razítkujeme ho v okamžiku příjmu v nakonfigurované časové zóně.
type Decoder struct {
	loc *time.Location
	now func() time.Time
}

// New vytvoří decoder pro danou časovou zónu (IANA název, např. "America/Sao_Paulo").
// Neplatná zóna není fatální: přepneme na UTC a zalogujeme warning.
func New(timezone string, logger *slog.Logger) *Decoder {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.Warn("Neplatná časová zóna, používám UTC", "timezone", timezone, "error", err)
		loc = time.UTC
	}
	return &Decoder{loc: loc, now: time.Now}
}

// Location vrací skutečně použitou zónu (UTC po fallbacku).
func (d *Decoder) Location() *time.Location { return d.loc }

// Decode zpracuje jeden payload. Vrací *DecodeError nebo *record.ValidationError.
func (d *Decoder) Decode(payload []byte) (record.Record, error) {
	w, err := parse(payload)
	if err != nil {
		return record.Record{}, err
	}

	readings := record.Readings{
		TemperatureC:    w.required["temperature"],
		HumidityPct:     w.required["humidity"],
		CO2PPM:          w.required["co2"],
		FlammableGasPPM: w.required["flammable_gas"],
		ToxicGasPPM:     w.required["toxic_gas"],
		UVIndex:         w.required["uv_index"],
		BatteryVoltage:  w.required["battery"],
	}
	gps := record.GPS{
		Latitude:   w.latitude.ptr(),
		Longitude:  w.longitude.ptr(),
		AltitudeM:  w.altitude.ptr(),
		Satellites: w.satellites.ptr(),
		FixQuality: w.fixQuality.ptr(),
	}

	return record.New(d.now().In(d.loc), readings, gps)
}

func parse(payload []byte) (wireReading, error) {
	if !utf8.Valid(payload) {
		return wireReading{}, &DecodeError{Err: errors.New("payload is not valid UTF-8")}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return wireReading{}, &DecodeError{Err: fmt.Errorf("payload is not a JSON object (got %s)", typeErr.Value)}
		}
		return wireReading{}, &DecodeError{Err: err}
	}
	if obj == nil {
		return wireReading{}, &DecodeError{Err: errors.New("payload is null")}
	}

	w := wireReading{required: make(map[string]float64, len(requiredKeys))}
	for _, key := range requiredKeys {
		raw, found := obj[key]
		if !found {
			return wireReading{}, &record.ValidationError{Field: key, Reason: "missing required field"}
		}
		if isNull(raw) {
			return wireReading{}, &record.ValidationError{Field: key, Reason: "required field is null"}
		}
		v, err := coerceFloat(key, raw)
		if err != nil {
			return wireReading{}, err
		}
		w.required[key] = v
	}

	var err error
	if w.latitude, err = optionalFloat(obj, "latitude"); err != nil {
		return wireReading{}, err
	}
	if w.longitude, err = optionalFloat(obj, "longitude"); err != nil {
		return wireReading{}, err
	}
	if w.altitude, err = optionalFloat(obj, "altitude"); err != nil {
		return wireReading{}, err
	}
	if w.satellites, err = optionalInt(obj, "satellites"); err != nil {
		return wireReading{}, err
	}
	if w.fixQuality, err = optionalInt(obj, "fix_quality"); err != nil {
		return wireReading{}, err
	}
	return w, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// coerceFloat přijme JSON číslo nebo řetězec s číslem ("23.5").
// Bool, objekt nebo pole jsou chyba typu.
func coerceFloat(key string, raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, &record.ValidationError{Field: key, Value: trimmed, Reason: "malformed string"}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, &record.ValidationError{Field: key, Value: s, Reason: "not a number"}
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &record.ValidationError{Field: key, Value: trimmed, Reason: "wrong type, expected number"}
	}
	return v, nil
}

func optionalFloat(obj map[string]json.RawMessage, key string) (optional[float64], error) {
	raw, found := obj[key]
	if !found || isNull(raw) {
		return optional[float64]{}, nil
	}
	v, err := coerceFloat(key, raw)
	if err != nil {
		return optional[float64]{}, err
	}
	return optional[float64]{value: v, ok: true}, nil
}

// optionalInt ořízne desetinnou část směrem k nule (8.0 -> 8, 8.7 -> 8).
func optionalInt(obj map[string]json.RawMessage, key string) (optional[int], error) {
	f, err := optionalFloat(obj, key)
	if err != nil || !f.ok {
		return optional[int]{}, err
	}
	if math.IsNaN(f.value) || math.IsInf(f.value, 0) || math.Abs(f.value) > math.MaxInt32 {
		return optional[int]{}, &record.ValidationError{Field: key, Value: f.value, Reason: "not a valid integer"}
	}
	return optional[int]{value: int(math.Trunc(f.value)), ok: true}, nil
}
