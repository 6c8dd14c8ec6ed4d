package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/growctl/errors"
)

func TestValidate(t *testing.T) {
	valid := []string{"sensors/soil_moisture", "faucet/command", "sensors/#", "sensors/+/temperature", "plant"}
	for _, tp := range valid {
		assert.NoError(t, Validate(tp), tp)
	}

	invalid := []string{"", "sensors//x", "/sensors", "sensors/", "sensors/#/x", "sensors/temp#", "plant.health", "a b/c"}
	for _, tp := range invalid {
		err := Validate(tp)
		assert.Error(t, err, tp)
		assert.True(t, errors.IsInvalid(err), tp)
	}
}

func TestSubjectMapping(t *testing.T) {
	tests := []struct {
		topic   string
		subject string
	}{
		{"sensors/soil_moisture", "sensors.soil_moisture"},
		{"faucet/command", "faucet.command"},
		{"sensors/+/temperature", "sensors.*.temperature"},
		{"plant/#", "plant.>"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.subject, ToSubject(tt.topic))
			assert.Equal(t, tt.topic, FromSubject(tt.subject))
		})
	}
}

func TestIsExact(t *testing.T) {
	assert.True(t, IsExact("sensors/temperature"))
	assert.False(t, IsExact("sensors/+"))
	assert.False(t, IsExact("sensors/#"))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("sensors/#", "sensors/soil_moisture"))
	assert.True(t, Matches("sensors/#", "sensors/a/b"))
	assert.True(t, Matches("sensors/+", "sensors/temperature"))
	assert.False(t, Matches("sensors/+", "sensors/a/b"))
	assert.True(t, Matches("faucet/command", "faucet/command"))
	assert.False(t, Matches("faucet/command", "faucet/status"))
	assert.False(t, Matches("plant/health/x", "plant/health"))
}
