// Package i2np defines the message shape the transport layer moves between
// routers: an opaque typed payload with an ID and an expiration. Full I2NP
// message construction and processing belongs to collaborators; the transport
// manager only queues, flushes and drops these messages, so the package is
// deliberately limited to the interfaces, the base wire encoding, and the
// Data message used by tests and the demo daemon.
package i2np
