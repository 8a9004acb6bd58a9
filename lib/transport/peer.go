package transport

import (
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"
	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-transports/lib/i2np"
)

// peer holds everything the manager knows about one remote identity: how many
// connect attempts are in the current cycle, its published reachability info
// (nil until resolved, or for unsolicited inbound connections), the sessions
// currently open to it, when the record was created, and the messages queued
// while no session exists.
//
// peer is owned by the manager's run loop and carries no synchronization of
// its own. Invariants maintained by the loop: pending is non-empty only while
// sessions is empty; every session shares the record's identity hash; a
// record exists only while an attempt is outstanding, a session is open, or
// pending is non-empty.
type peer struct {
	attempts   int
	routerInfo *router_info.RouterInfo
	sessions   []TransportSession
	createdAt  time.Time
	pending    []i2np.I2NPMessage

	// connecting marks an outstanding attempt (dial or resolve) so a second
	// send does not start a parallel one.
	connecting bool
}

func newPeer(now time.Time) *peer {
	return &peer{createdAt: now}
}

// connected reports whether at least one session is open.
func (p *peer) connected() bool {
	return len(p.sessions) > 0
}

// idle reports whether the record holds nothing worth keeping.
func (p *peer) idle() bool {
	return !p.connecting && len(p.sessions) == 0 && len(p.pending) == 0
}

// queue appends messages in call order for delivery once a session exists.
func (p *peer) queue(msgs ...i2np.I2NPMessage) {
	p.pending = append(p.pending, msgs...)
}

// flush hands every pending message to s in original submission order and
// clears the queue. Returns how many messages were flushed.
func (p *peer) flush(s TransportSession) int {
	flushed := 0
	for _, msg := range p.pending {
		if err := s.QueueSendI2NP(msg); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "(peer) flush",
				"reason": "session_rejected_message",
			}).Warn("dropping pending message")
			continue
		}
		flushed++
	}
	p.pending = nil
	return flushed
}

// addSession appends a session and resets the attempt cycle.
func (p *peer) addSession(s TransportSession) {
	p.sessions = append(p.sessions, s)
	p.connecting = false
	p.attempts = 0
}

// removeSession drops s from the session list. Returns false if s was not
// attached to this record.
func (p *peer) removeSession(s TransportSession) bool {
	for i, have := range p.sessions {
		if have == s {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// closeSessions requests teardown of every open session. The backends report
// each teardown asynchronously via PeerDisconnected; the record is not
// mutated here.
func (p *peer) closeSessions() {
	for _, s := range p.sessions {
		if err := s.Close(); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "(peer) closeSessions",
				"reason": "session_close_failed",
			}).Warn("error closing session")
		}
	}
}

// PeerInfo is a read-only diagnostic snapshot of one peer record.
type PeerInfo struct {
	Identity   common.Hash
	Attempts   int
	Sessions   int
	Pending    int
	CreatedAt  time.Time
	Connecting bool
}

func (p *peer) snapshot(ident common.Hash) PeerInfo {
	return PeerInfo{
		Identity:   ident,
		Attempts:   p.attempts,
		Sessions:   len(p.sessions),
		Pending:    len(p.pending),
		CreatedAt:  p.createdAt,
		Connecting: p.connecting,
	}
}
