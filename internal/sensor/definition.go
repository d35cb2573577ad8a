package sensor

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindTemperature Kind = "temperature"
	KindPressure    Kind = "pressure"
)

// Definition is the static description of one simulated sensor.
type Definition struct {
	Key        string
	ID         int
	LocationID int
	Name       string
	Kind       Kind
	Unit       string

	Base        float64
	Variance    float64
	Min         float64
	Max         float64
	TrendFactor float64
}

var ErrInvalidDefinition = errors.New("invalid sensor definition")

func (d Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidDefinition)
	}
	if d.Min > d.Max {
		return fmt.Errorf("%w: %s: min %.2f > max %.2f", ErrInvalidDefinition, d.Key, d.Min, d.Max)
	}
	if d.Base < d.Min || d.Base > d.Max {
		return fmt.Errorf("%w: %s: base %.2f outside [%.2f, %.2f]", ErrInvalidDefinition, d.Key, d.Base, d.Min, d.Max)
	}
	if d.Variance < 0 {
		return fmt.Errorf("%w: %s: negative variance %.2f", ErrInvalidDefinition, d.Key, d.Variance)
	}
	return nil
}

// Table validates an ordered list of definitions and rejects duplicate keys.
func Table(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: no sensors configured", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidDefinition, d.Key)
		}
		seen[d.Key] = struct{}{}
	}
	return nil
}
