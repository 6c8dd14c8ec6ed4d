// Package monitorregistry registers every built-in monitor type.
package monitorregistry

import (
	"errors"

	pkgerrors "github.com/c360/growctl/errors"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/monitor/faucet"
	"github.com/c360/growctl/monitor/plant"
)

// Register adds the built-in monitor types to registry:
//   - plant: soil moisture / temperature health monitor with faucet hysteresis
//   - faucet: faucet command tracker publishing retained state
func Register(registry *monitor.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"MonitorRegistry", "Register", "registry validation")
	}

	if err := plant.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "MonitorRegistry", "Register", "plant monitor registration")
	}
	if err := faucet.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "MonitorRegistry", "Register", "faucet monitor registration")
	}
	return nil
}
