// Package domain defines the core broadcast types and interfaces.
//
// Files are concept-oriented (event.go, control.go, config.go, pubsub.go,
// errors.go). No implementation code beyond validation helpers, so adapters
// and the hub can share it without import cycles.
package domain
