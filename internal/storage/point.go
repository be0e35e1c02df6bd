package storage

import (
	"time"

	"weather-station/internal/record"
)

// Názvy sloupců v tabulce. Odpovídají polím, která dřív šla do InfluxDB,
// aby dashboardy a dotazy nemusely nic překládat.
const (
	ColTime           = "time"
	ColTemperatureC   = "temperature_c"
	ColHumidityPct    = "humidity_pct"
	ColCO2PPM         = "air_quality_co2_ppm"
	ColFlammableGas   = "flammable_gas_ppm"
	ColToxicGas       = "toxic_gas_ppm"
	ColUVIndex        = "uv_index"
	ColBatteryVoltage = "battery_voltage"
	ColGPSLatitude    = "gps_latitude"
	ColGPSLongitude   = "gps_longitude"
	ColGPSAltitudeM   = "gps_altitude_m"
	ColGPSSatellites  = "gps_satellites"
	ColGPSFixQuality  = "gps_fix_quality"
)

// allColumns je pořadí sloupců v SELECTu.
var allColumns = []string{
	ColTime,
	ColTemperatureC, ColHumidityPct, ColCO2PPM, ColFlammableGas, ColToxicGas, ColUVIndex, ColBatteryVoltage,
	ColGPSLatitude, ColGPSLongitude, ColGPSAltitudeM, ColGPSSatellites, ColGPSFixQuality,
}

// intColumns se vrací jako int64, ostatní hodnotové sloupce jako float64.
var intColumns = map[string]bool{ColGPSSatellites: true, ColGPSFixQuality: true}

// Row je jeden řádek výsledku dotazu: název sloupce -> skalár.
// Sloupce s NULL (chybějící GPS) v mapě nejsou.
type Row map[string]any

// point je nativní podoba záznamu pro úložiště: čas + hodnotové sloupce.
// Žádné tagy/indexové sloupce, jen hodnoty.
type point struct {
	time    time.Time
	columns []string
	values  []any
}

// toPoint převede Record na point. GPS sloupce přidáme jen když jsou k dispozici.
func toPoint(rec record.Record) point {
	r := rec.Readings()
	p := point{
		time: rec.Timestamp(),
		columns: []string{
			ColTemperatureC, ColHumidityPct, ColCO2PPM, ColFlammableGas, ColToxicGas, ColUVIndex, ColBatteryVoltage,
		},
		values: []any{
			r.TemperatureC, r.HumidityPct, r.CO2PPM, r.FlammableGasPPM, r.ToxicGasPPM, r.UVIndex, r.BatteryVoltage,
		},
	}

	gps := rec.GPS()
	if gps.Latitude != nil {
		p.add(ColGPSLatitude, *gps.Latitude)
	}
	if gps.Longitude != nil {
		p.add(ColGPSLongitude, *gps.Longitude)
	}
	if gps.AltitudeM != nil {
		p.add(ColGPSAltitudeM, *gps.AltitudeM)
	}
	if gps.Satellites != nil {
		p.add(ColGPSSatellites, int64(*gps.Satellites))
	}
	if gps.FixQuality != nil {
		p.add(ColGPSFixQuality, int64(*gps.FixQuality))
	}
	return p
}

func (p *point) add(col string, v any) {
	p.columns = append(p.columns, col)
	p.values = append(p.values, v)
}

// row vrací point ve stejném tvaru, v jakém přijde z dotazu.
func (p point) row() Row {
	out := make(Row, len(p.columns)+1)
	out[ColTime] = p.time
	for i, c := range p.columns {
		out[c] = p.values[i]
	}
	return out
}
