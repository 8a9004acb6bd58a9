package transport

import (
	"net"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"

	"github.com/go-i2p/go-transports/lib/i2np"
)

// Transport is one wire protocol backend (NTCP2-style TCP or SSU2-style
// datagram). Backends own their listeners, framing and handshake crypto; the
// TransportManager only asks them for sessions and hands them messages.
type Transport interface {
	// Accept accepts an incoming connection from this transport's listener.
	Accept() (net.Conn, error)

	// Addr returns the address this transport is listening on, or nil if it
	// has no listener.
	Addr() net.Addr

	// SetIdentity binds the local router's info to this transport. Must be
	// called before sessions are established.
	SetIdentity(ident router_info.RouterInfo) error

	// GetSession dials the peer described by routerInfo and runs the
	// handshake. Blocks until the session is established or the attempt
	// fails; never call it from a loop that must not stall.
	GetSession(routerInfo router_info.RouterInfo) (TransportSession, error)

	// Compatible reports whether routerInfo advertises an address this
	// transport can reach.
	Compatible(routerInfo router_info.RouterInfo) bool

	// Close shuts the transport down, terminating its sessions.
	Close() error

	// Name returns the transport style, e.g. "NTCP2".
	Name() string
}

// TransportSession is an established, authenticated, bidirectional channel to
// exactly one remote router over exactly one transport. Ownership is shared
// between the backend (which drives its I/O) and the TransportManager (which
// requests sends and close).
type TransportSession interface {
	// QueueSendI2NP queues a message for delivery. Fire-and-forget: a nil
	// error means queued, not delivered.
	QueueSendI2NP(msg i2np.I2NPMessage) error

	// SendQueueSize returns the number of messages waiting in the send queue.
	SendQueueSize() int

	// ReadNextI2NP blocks until the next inbound message arrives.
	ReadNextI2NP() (i2np.I2NPMessage, error)

	// RemoteIdentHash returns the identity hash of the authenticated remote
	// router. Stable for the life of the session.
	RemoteIdentHash() common.Hash

	// Close tears the session down. The backend reports the teardown through
	// TransportManager.PeerDisconnected.
	Close() error
}

// RouterInfoResolver looks up RouterInfos by identity hash. Implemented by
// the network database collaborator; consulted when a send targets an
// identity with no cached reachability info.
type RouterInfoResolver interface {
	// Lookup resolves a router info by hash, returning nil and an error if it
	// could not be found within timeout.
	Lookup(hash common.Hash, timeout time.Duration) (*router_info.RouterInfo, error)
}
