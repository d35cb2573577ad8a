package transmit

import (
	"time"

	"substation-sim/internal/sensor"
)

// Batch is the collector wire payload for one tick.
type Batch struct {
	Device   string    `json:"device"`
	Location string    `json:"location"`
	TS       int64     `json:"ts"`
	TSSec    int64     `json:"ts_sec"`
	Synced   bool      `json:"synced"`
	Readings []Reading `json:"readings"`
}

type Reading struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"v"`
	Unit  string  `json:"unit"`
}

// NewBatch stamps readings with now. Synced is always true: every batch is a
// live sample, never a backfill.
func NewBatch(device, location string, now time.Time, readings []sensor.Reading) Batch {
	out := make([]Reading, len(readings))
	for i, r := range readings {
		out[i] = Reading{
			ID:    r.ID,
			Name:  r.Key,
			Value: r.Value,
			Unit:  r.Unit,
		}
	}
	return Batch{
		Device:   device,
		Location: location,
		TS:       now.UnixMilli(),
		TSSec:    now.Unix(),
		Synced:   true,
		Readings: out,
	}
}
