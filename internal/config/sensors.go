package config

import (
	"encoding/json"
	"fmt"
	"os"

	"substation-sim/internal/sensor"
)

// DefaultSensors is the substation's six-sensor table: three temperature
// loops and three pressure points. LocationID matches the collector's
// sensorObjectLocationId for the same measurement point.
func DefaultSensors() []sensor.Definition {
	return []sensor.Definition{
		{Key: "supply_temp", ID: 0, LocationID: 1, Name: "Орох температур", Kind: sensor.KindTemperature, Unit: "°C",
			Base: 75.0, Variance: 5.0, Min: 60.0, Max: 95.0, TrendFactor: 0.05},
		{Key: "return_temp", ID: 1, LocationID: 2, Name: "Буцах температур", Kind: sensor.KindTemperature, Unit: "°C",
			Base: 55.0, Variance: 4.0, Min: 45.0, Max: 70.0, TrendFactor: 0.05},
		{Key: "hot_water_temp", ID: 2, LocationID: 3, Name: "Халуун усны температур", Kind: sensor.KindTemperature, Unit: "°C",
			Base: 65.0, Variance: 3.0, Min: 55.0, Max: 75.0, TrendFactor: 0.03},
		{Key: "supply_pressure", ID: 3, LocationID: 5, Name: "Орох даралт", Kind: sensor.KindPressure, Unit: "bar",
			Base: 6.0, Variance: 0.3, Min: 5.0, Max: 8.0, TrendFactor: 0.02},
		{Key: "return_pressure", ID: 4, LocationID: 6, Name: "Буцах даралт", Kind: sensor.KindPressure, Unit: "bar",
			Base: 4.5, Variance: 0.2, Min: 3.5, Max: 6.0, TrendFactor: 0.02},
		{Key: "system_pressure", ID: 5, LocationID: 7, Name: "Системийн даралт", Kind: sensor.KindPressure, Unit: "bar",
			Base: 5.2, Variance: 0.25, Min: 4.0, Max: 7.0, TrendFactor: 0.02},
	}
}

type sensorsFile struct {
	Sensors map[string]sensorOverride `json:"sensors"`
}

type sensorOverride struct {
	ID          *int     `json:"id,omitempty"`
	Unit        *string  `json:"unit,omitempty"`
	Base        *float64 `json:"base,omitempty"`
	Variance    *float64 `json:"variance,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	TrendFactor *float64 `json:"trend_factor,omitempty"`
}

// LoadSensorOverrides applies the per-sensor fields found in the JSON file at
// path on top of defs. Other top-level keys (device_id, server_url, ...) are
// ignored so the same file can carry the rest of the device settings.
func LoadSensorOverrides(path string, defs []sensor.Definition) ([]sensor.Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SENSORS_FILE: %w", err)
	}
	return ApplySensorOverrides(b, defs)
}

func ApplySensorOverrides(data []byte, defs []sensor.Definition) ([]sensor.Definition, error) {
	var f sensorsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sensors file: %w", err)
	}

	out := append([]sensor.Definition(nil), defs...)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Key] = i
	}

	for key, o := range f.Sensors {
		i, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("sensors file: unknown sensor %q", key)
		}
		d := &out[i]
		if o.ID != nil {
			d.ID = *o.ID
		}
		if o.Unit != nil {
			d.Unit = *o.Unit
		}
		if o.Base != nil {
			d.Base = *o.Base
		}
		if o.Variance != nil {
			d.Variance = *o.Variance
		}
		if o.Min != nil {
			d.Min = *o.Min
		}
		if o.Max != nil {
			d.Max = *o.Max
		}
		if o.TrendFactor != nil {
			d.TrendFactor = *o.TrendFactor
		}
	}
	return out, nil
}
