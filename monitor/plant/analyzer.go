package plant

import "math"

// Action is the faucet command an evaluation asks for.
type Action int

// Faucet actions
const (
	ActionNone Action = iota
	ActionFaucetOn
	ActionFaucetOff
)

func (a Action) String() string {
	switch a {
	case ActionFaucetOn:
		return "faucet_on"
	case ActionFaucetOff:
		return "faucet_off"
	default:
		return "none"
	}
}

// Analysis holds the derived metrics for one moisture/temperature pair.
type Analysis struct {
	WateringHours     float64
	CurrentlyWatering int
	Health            int
}

// Analyze computes every derived metric.
func (t Thresholds) Analyze(moisture, temperature float64) Analysis {
	return Analysis{
		WateringHours:     t.WateringHours(moisture, temperature),
		CurrentlyWatering: t.CurrentlyWatering(moisture),
		Health:            t.Health(moisture, temperature),
	}
}

// WateringHours estimates the hours until the next watering, rounded to one
// decimal. Heat shortens the estimate by 30% and cold lengthens it by 30%.
func (t Thresholds) WateringHours(moisture, temperature float64) float64 {
	var base float64
	switch {
	case moisture >= t.MoistureOptimal:
		base = 24.0
	case moisture >= t.MoistureLow:
		ratio := (moisture - t.MoistureLow) / (t.MoistureOptimal - t.MoistureLow)
		base = 12.0 + ratio*12.0
	default:
		base = math.Max(0, moisture/t.MoistureLow*12.0)
	}

	switch {
	case temperature > t.TempHigh:
		base *= 0.7
	case temperature < t.TempLow:
		base *= 1.3
	}
	return math.Round(base*10) / 10
}

// CurrentlyWatering is the demand flag: 1 while moisture is below optimal. It
// does not reflect the faucet state.
func (t Thresholds) CurrentlyWatering(moisture float64) int {
	if moisture < t.MoistureOptimal {
		return 1
	}
	return 0
}

// Health scores the plant from 0 to 100: up to 50 points for moisture and up to
// 50 for temperature.
func (t Thresholds) Health(moisture, temperature float64) int {
	total := int(t.moistureScore(moisture) + t.temperatureScore(temperature))
	return min(100, max(0, total))
}

func (t Thresholds) moistureScore(moisture float64) float64 {
	switch {
	case moisture >= t.MoistureOptimal:
		return 50
	case moisture >= t.MoistureLow:
		ratio := (moisture - t.MoistureLow) / (t.MoistureOptimal - t.MoistureLow)
		return 25 + ratio*25
	default:
		return math.Max(0, moisture/t.MoistureLow*25)
	}
}

func (t Thresholds) temperatureScore(temperature float64) float64 {
	if temperature >= t.TempLow && temperature <= t.TempHigh {
		mid := (t.TempLow + t.TempHigh) / 2
		halfRange := (t.TempHigh - t.TempLow) / 2
		deviation := math.Abs(temperature-mid) / halfRange
		return 50 * (1 - deviation*0.3)
	}

	var deviation float64
	if temperature < t.TempLow {
		deviation = (t.TempLow - temperature) / t.TempLow
	} else {
		deviation = (temperature - t.TempHigh) / t.TempHigh
	}
	return math.Max(0, 50*(1-deviation))
}

// Actuate applies the hysteresis: the faucet turns on at or below the low
// threshold and off at or above optimal. Between the two nothing changes.
func (t Thresholds) Actuate(moisture float64, faucetOn bool) Action {
	switch {
	case moisture <= t.MoistureLow && !faucetOn:
		return ActionFaucetOn
	case moisture >= t.MoistureOptimal && faucetOn:
		return ActionFaucetOff
	default:
		return ActionNone
	}
}
