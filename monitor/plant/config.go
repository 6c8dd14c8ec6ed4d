package plant

import (
	"fmt"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
)

// Configuration keys
const (
	InputSoilMoisture = "soil_moisture_topic"
	InputTemperature  = "temperature_topic"

	OutputWateringHours     = "watering_hours_topic"
	OutputCurrentlyWatering = "currently_watering_topic"
	OutputPlantHealth       = "plant_health_topic"
	OutputFaucetCommand     = "faucet_command_topic"

	ThresholdMoistureLow     = "moisture_low"
	ThresholdMoistureOptimal = "moisture_optimal"
	ThresholdTempLow         = "temp_low"
	ThresholdTempHigh        = "temp_high"
)

// DefaultFaucetCommandTopic is used when faucet_command_topic is not configured.
const DefaultFaucetCommandTopic = "faucet/command"

// Thresholds drive both the derived metrics and the faucet hysteresis.
type Thresholds struct {
	MoistureLow     float64
	MoistureOptimal float64
	TempLow         float64
	TempHigh        float64
}

// Validate checks the ordering the formulas rely on. The low moisture bound and
// both temperature bounds are divisors and must be non-zero.
func (t Thresholds) Validate() error {
	switch {
	case t.MoistureLow <= 0:
		return fmt.Errorf("%w: moisture_low must be positive", errors.ErrInvalidConfig)
	case t.MoistureLow >= t.MoistureOptimal:
		return fmt.Errorf("%w: moisture_low (%g) must be below moisture_optimal (%g)",
			errors.ErrInvalidConfig, t.MoistureLow, t.MoistureOptimal)
	case t.TempLow >= t.TempHigh:
		return fmt.Errorf("%w: temp_low (%g) must be below temp_high (%g)",
			errors.ErrInvalidConfig, t.TempLow, t.TempHigh)
	case t.TempLow == 0 || t.TempHigh == 0:
		return fmt.Errorf("%w: temperature bounds cannot be zero", errors.ErrInvalidConfig)
	}
	return nil
}

// Topics are the monitor's inputs and outputs.
type Topics struct {
	SoilMoisture      string
	Temperature       string
	WateringHours     string
	CurrentlyWatering string
	PlantHealth       string
	FaucetCommand     string
}

// Config is a validated plant monitor configuration.
type Config struct {
	Name       string
	Topics     Topics
	Thresholds Thresholds
}

// ParseConfig extracts and validates a plant monitor entry.
func ParseConfig(mc config.MonitorConfig) (Config, error) {
	cfg := Config{Name: mc.Name}

	var err error
	inputs := []struct {
		key string
		dst *string
		get func(string) (string, error)
	}{
		{InputSoilMoisture, &cfg.Topics.SoilMoisture, mc.RequireInput},
		{InputTemperature, &cfg.Topics.Temperature, mc.RequireInput},
		{OutputWateringHours, &cfg.Topics.WateringHours, mc.RequireOutput},
		{OutputCurrentlyWatering, &cfg.Topics.CurrentlyWatering, mc.RequireOutput},
		{OutputPlantHealth, &cfg.Topics.PlantHealth, mc.RequireOutput},
	}
	for _, in := range inputs {
		if *in.dst, err = in.get(in.key); err != nil {
			return Config{}, err
		}
	}
	cfg.Topics.FaucetCommand = mc.OutputTopic(OutputFaucetCommand, DefaultFaucetCommandTopic)

	thresholds := []struct {
		key string
		dst *float64
	}{
		{ThresholdMoistureLow, &cfg.Thresholds.MoistureLow},
		{ThresholdMoistureOptimal, &cfg.Thresholds.MoistureOptimal},
		{ThresholdTempLow, &cfg.Thresholds.TempLow},
		{ThresholdTempHigh, &cfg.Thresholds.TempHigh},
	}
	for _, th := range thresholds {
		if *th.dst, err = mc.RequireThreshold(th.key); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Thresholds.Validate(); err != nil {
		return Config{}, errors.WrapInvalid(fmt.Errorf("monitor %q: %w", mc.Name, err),
			"plant", "ParseConfig", "validate thresholds")
	}
	if cfg.Topics.SoilMoisture == cfg.Topics.Temperature {
		return Config{}, errors.WrapInvalid(
			fmt.Errorf("%w: monitor %q: moisture and temperature share topic %s",
				errors.ErrInvalidConfig, mc.Name, cfg.Topics.Temperature),
			"plant", "ParseConfig", "validate inputs")
	}
	return cfg, nil
}
