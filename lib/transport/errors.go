package transport

import "github.com/samber/oops"

// error for when we have no transports available to use
var ErrNoTransportAvailable = oops.Errorf("no transports available")

// error for when the concurrent session limit has been reached
var ErrConnectionPoolFull = oops.Errorf("connection pool full")

// error for when the manager has already been started
var ErrAlreadyStarted = oops.Errorf("transport manager already started")

// error for when an operation is attempted after Stop
var ErrShutdown = oops.Errorf("transport manager is shut down")
