package server

import "errors"

// Sentinel errors for server lifecycle conditions.
var (
	// ErrServerClosed is returned by Serve after Stop.
	ErrServerClosed = errors.New("server: closed")

	// ErrMaxConnectionsReached is reported when an accepted transport is
	// refused because MaxConnections channels are open.
	ErrMaxConnectionsReached = errors.New("server: max connections reached")
)
