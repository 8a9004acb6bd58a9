package transport

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"

	"github.com/go-i2p/go-transports/lib/i2np"
)

// command is one unit of work for the manager's run loop. All peer-map
// mutation happens through commands so that the loop goroutine is the only
// writer.
type command interface {
	execute(tm *TransportManager)
}

// sendCommand queues or delivers messages for one identity.
type sendCommand struct {
	ident common.Hash
	msgs  []i2np.I2NPMessage
}

func (c *sendCommand) execute(tm *TransportManager) {
	tm.handleSend(c.ident, c.msgs)
}

// connectedCommand reports a completed handshake, inbound or outbound.
type connectedCommand struct {
	session TransportSession
}

func (c *connectedCommand) execute(tm *TransportManager) {
	tm.handleConnected(c.session)
}

// disconnectedCommand reports a terminated session.
type disconnectedCommand struct {
	session TransportSession
}

func (c *disconnectedCommand) execute(tm *TransportManager) {
	tm.handleDisconnected(c.session)
}

// closeCommand requests teardown of every session to one identity.
type closeCommand struct {
	ident common.Hash
}

func (c *closeCommand) execute(tm *TransportManager) {
	tm.handleClose(c.ident)
}

// resolvedCommand delivers a RouterInfo looked up off-loop.
type resolvedCommand struct {
	ident      common.Hash
	routerInfo *router_info.RouterInfo
}

func (c *resolvedCommand) execute(tm *TransportManager) {
	tm.handleResolved(c.ident, c.routerInfo)
}

// attemptFailedCommand reports that a connect cycle exhausted its candidates
// or its resolution failed.
type attemptFailedCommand struct {
	ident common.Hash
}

func (c *attemptFailedCommand) execute(tm *TransportManager) {
	tm.handleAttemptFailed(c.ident)
}

// inspectCommand runs a read-only closure on the loop and signals completion.
// Used by the synchronous query methods (IsConnected, PeerCount, ...).
type inspectCommand struct {
	fn   func(tm *TransportManager)
	done chan struct{}
}

func (c *inspectCommand) execute(tm *TransportManager) {
	c.fn(tm)
	close(c.done)
}
