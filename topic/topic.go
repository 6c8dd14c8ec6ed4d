// Package topic maps MQTT-style topics onto NATS subjects.
//
// Monitors are configured with slash-separated topics such as
// "sensors/soil_moisture". The NATS transport carries them on the subject the
// server's MQTT gateway would use for the same topic, so MQTT devices attached to
// that gateway and native NATS clients see the same stream:
//
//	sensors/soil_moisture  ->  sensors.soil_moisture
//	sensors/+/temperature  ->  sensors.*.temperature
//	sensors/#              ->  sensors.>
package topic

import (
	"fmt"
	"strings"

	"github.com/c360/growctl/errors"
)

const (
	// Separator between topic levels
	Separator = "/"
	// SingleLevel matches exactly one level
	SingleLevel = "+"
	// MultiLevel matches any number of trailing levels
	MultiLevel = "#"
)

// Validate checks that t is usable as a topic. Wildcards are only legal as a whole
// level, and "#" only as the last level.
func Validate(t string) error {
	if t == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "topic", "Validate", "empty topic")
	}

	levels := strings.Split(t, Separator)
	for i, level := range levels {
		switch {
		case level == "":
			return errors.WrapInvalid(
				fmt.Errorf("topic %q has an empty level", t), "topic", "Validate", "level check")
		case strings.ContainsAny(level, " \t\r\n."):
			return errors.WrapInvalid(
				fmt.Errorf("topic %q contains whitespace or '.'", t), "topic", "Validate", "character check")
		case level == MultiLevel && i != len(levels)-1:
			return errors.WrapInvalid(
				fmt.Errorf("topic %q: '#' must be the last level", t), "topic", "Validate", "wildcard check")
		case level != MultiLevel && level != SingleLevel && strings.ContainsAny(level, "+#*>"):
			return errors.WrapInvalid(
				fmt.Errorf("topic %q: wildcard inside a level", t), "topic", "Validate", "wildcard check")
		}
	}
	return nil
}

// IsExact reports whether t contains no wildcard level.
func IsExact(t string) bool {
	for _, level := range strings.Split(t, Separator) {
		if level == SingleLevel || level == MultiLevel {
			return false
		}
	}
	return true
}

// ToSubject converts a validated topic to its NATS subject.
func ToSubject(t string) string {
	levels := strings.Split(t, Separator)
	for i, level := range levels {
		switch level {
		case SingleLevel:
			levels[i] = "*"
		case MultiLevel:
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// FromSubject converts a NATS subject back to a topic.
func FromSubject(subject string) string {
	levels := strings.Split(subject, ".")
	for i, level := range levels {
		switch level {
		case "*":
			levels[i] = SingleLevel
		case ">":
			levels[i] = MultiLevel
		}
	}
	return strings.Join(levels, Separator)
}

// Matches reports whether the exact topic t is matched by pattern.
func Matches(pattern, t string) bool {
	p := strings.Split(pattern, Separator)
	s := strings.Split(t, Separator)

	for i, level := range p {
		if level == MultiLevel {
			return true
		}
		if i >= len(s) {
			return false
		}
		if level != SingleLevel && level != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
