// Package sensor generates simulated substation readings.
//
// Each sensor follows a mean-reverting random walk with a diurnal trend:
// every call pulls the last value 10% of the way back to its base, adds
// gaussian noise scaled by the sensor variance and a sine term tied to the
// hour of day, then clamps and rounds the result.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	meanReversionRate = 0.1
	noiseScale        = 0.1
)

var ErrUnknownSensor = errors.New("unknown sensor")

// NormalSource yields standard normal draws. *rand.Rand from math/rand/v2 satisfies it.
type NormalSource interface {
	NormFloat64() float64
}

type Reading struct {
	Key   string
	ID    int
	Value float64
	Unit  string
}

type Model struct {
	defs  []Definition
	index map[string]int
	last  []float64
	rng   NormalSource
	now   func() time.Time
}

func NewModel(defs []Definition, rng NormalSource, now func() time.Time) (*Model, error) {
	if err := Table(defs); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("sensor: nil random source")
	}
	if now == nil {
		now = time.Now
	}

	m := &Model{
		defs:  append([]Definition(nil), defs...),
		index: make(map[string]int, len(defs)),
		last:  make([]float64, len(defs)),
		rng:   rng,
		now:   now,
	}
	for i, d := range m.defs {
		m.index[d.Key] = i
		m.last[i] = d.Base
	}
	return m, nil
}

// Next advances the sensor identified by key and returns its new value.
// Panics if key is not in the definition table.
func (m *Model) Next(key string) float64 {
	i, ok := m.index[key]
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrUnknownSensor, key))
	}
	return m.step(i, m.now().Hour())
}

// ReadAll advances every sensor once, in definition order.
func (m *Model) ReadAll() []Reading {
	hour := m.now().Hour()
	out := make([]Reading, len(m.defs))
	for i, d := range m.defs {
		out[i] = Reading{
			Key:   d.Key,
			ID:    d.ID,
			Value: m.step(i, hour),
			Unit:  d.Unit,
		}
	}
	return out
}

func (m *Model) Last(key string) (float64, bool) {
	i, ok := m.index[key]
	if !ok {
		return 0, false
	}
	return m.last[i], true
}

func (m *Model) Definitions() []Definition {
	return append([]Definition(nil), m.defs...)
}

func (m *Model) step(i int, hour int) float64 {
	d := m.defs[i]
	last := m.last[i]

	trend := DiurnalTrend(hour, d.TrendFactor)
	noise := m.rng.NormFloat64() * d.Variance * noiseScale
	pull := (d.Base - last) * meanReversionRate

	v := Round2(clamp(last+noise+pull+trend*d.Base, d.Min, d.Max))
	// Bounds finer than two decimals could round outside the range.
	v = clamp(v, d.Min, d.Max)
	m.last[i] = v
	return v
}

// DiurnalTrend is the fractional time-of-day offset for hour (0-23): zero at
// 06 and 18, positive in between, negative overnight.
func DiurnalTrend(hour int, factor float64) float64 {
	return math.Sin(float64(hour-6)*math.Pi/12) * factor
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
