// Package errors provides error classification and the typed errors shared by the
// bus, the monitors and the supervisor.
//
// # Classification
//
// Every error is Transient (retry may help), Invalid (bad input or configuration,
// do not retry) or Fatal (stop). Callers branch on the class instead of matching
// strings:
//
//	if err := client.Connect(ctx); err != nil {
//	    if errors.IsTransient(err) {
//	        // back off and try again
//	    }
//	}
//
// Context cancellation and deadline errors classify as Transient.
//
// # Wrapping
//
// Wrapped errors read "component.method: action failed: cause":
//
//	errors.WrapTransient(err, "Client", "Connect", "dial broker")
//	errors.WrapInvalid(err, "Registry", "Create", "validate config")
//	errors.WrapFatal(err, "Monitor", "Start", "bus check")
//
// Wrap keeps the class of the error it wraps, so a monitor can add context to a
// bus error without changing how the supervisor treats it.
//
// # Domain errors
//
//   - ConnectionError: the broker could not be reached (transient)
//   - DecodeError: a payload on a topic could not be parsed (invalid)
//   - UnsupportedTypeError: a message flow names an unregistered monitor type
//     (invalid, and matches ErrInvalidConfig)
//   - PublishError: a publish failed (transient, never retried by the core)
//
// # Lifecycle no-ops
//
// ErrAlreadyStarted and ErrAlreadyStopped report that Start or Stop found the
// monitor already in the requested state. IsLifecycleNoop lets the supervisor
// ignore them while shutting down.
//
// All values are safe to share across goroutines.
package errors
