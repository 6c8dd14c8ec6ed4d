// Package message defines what travels on the bus: a topic plus a JSON payload,
// and the two payload shapes the controller understands.
//
// Sensor readings and derived telemetry carry a Reading, {"value": <number>}.
// The actuation topic carries a Command, {"command": 0|1}; DecodeCommand also
// accepts the bare forms simpler publishers send ("1", 1, or plain text 1).
package message

import (
	"context"
	"time"
)

// Handler consumes messages delivered for one subscribed topic. Calls for the same
// topic never overlap and arrive in publish order.
type Handler func(ctx context.Context, msg Message)

// Message is one inbound delivery handed to a topic handler.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
	Retained   bool
}

// New builds a Message stamped with the current time.
func New(topic string, payload []byte) Message {
	return Message{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
}
