// Package growctl is a plant health monitor and faucet controller that runs on a
// message bus.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          Supervisor (service)       │  builds monitors from config,
//	│                                     │  runs and stops them
//	└─────────────────────────────────────┘
//	           ↓ creates via
//	┌─────────────────────────────────────┐
//	│       Monitor registry (monitor)    │  type string -> factory
//	└─────────────────────────────────────┘
//	           ↓ builds
//	┌─────────────────────────────────────┐
//	│  plant.Monitor    faucet.Tracker    │  react to readings, publish
//	│                                     │  derived metrics and commands
//	└─────────────────────────────────────┘
//	           ↓ subscribe / publish
//	┌─────────────────────────────────────┐
//	│        Message bus (natsclient)     │  NATS, MQTT-style topics,
//	│                                     │  retained messages in JetStream KV
//	└─────────────────────────────────────┘
//
// # Data flow
//
// A simulator or real sensors publish {"value": n} on sensors/soil_moisture and
// sensors/temperature. The plant monitor stores the latest of each, and once both
// are known it publishes watering hours, a currently-watering flag and a health
// score under plant/, then sends {"command": 1} or {"command": 0} on
// faucet/command when moisture crosses the low or optimal threshold. Between the
// two thresholds the faucet keeps its state.
//
// # Packages
//
//   - cmd/growctl: the controller binary
//   - cmd/plantsim: a simulated plant bed for local runs
//   - config: file layers, GROWCTL_* overrides, change watcher
//   - natsclient, topic, message: the bus and its wire format
//   - monitor, monitor/plant, monitor/faucet, monitorregistry: monitors
//   - service: the supervisor
//   - metric, health: Prometheus metrics and the /health endpoint
//   - errors, pkg/retry, pkg/tlsutil: shared infrastructure
package growctl
