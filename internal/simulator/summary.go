package simulator

import (
	"fmt"
	"strings"

	"substation-sim/internal/sensor"
)

const (
	supplyKey = "supply_temp"
	returnKey = "return_temp"

	deltaTLow  = 25.0
	deltaTHigh = 35.0
)

// Summary renders readings as "key=value" pairs with one decimal.
func Summary(readings []sensor.Reading) string {
	var b strings.Builder
	for i, r := range readings {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%.1f", r.Key, r.Value)
	}
	return b.String()
}

// DeltaT is supply minus return temperature. ok is false when either sensor
// is not configured.
func DeltaT(readings []sensor.Reading) (delta float64, ok bool) {
	var sup, ret float64
	var haveSup, haveRet bool
	for _, r := range readings {
		switch r.Key {
		case supplyKey:
			sup, haveSup = r.Value, true
		case returnKey:
			ret, haveRet = r.Value, true
		}
	}
	if !haveSup || !haveRet {
		return 0, false
	}
	return sensor.Round2(sup - ret), true
}

func summaryAttrs(iteration int64, readings []sensor.Reading) []any {
	attrs := []any{
		"iteration", iteration,
		"sensors", len(readings),
		"summary", Summary(readings),
	}
	if dt, ok := DeltaT(readings); ok {
		attrs = append(attrs,
			"delta_t", dt,
			"delta_t_ok", dt >= deltaTLow && dt <= deltaTHigh,
		)
	}
	return attrs
}
