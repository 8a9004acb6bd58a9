package transport

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"
	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-transports/lib/config"
	"github.com/go-i2p/go-transports/lib/i2np"
	"github.com/go-i2p/go-transports/lib/transport/keypool"
)

// commandBacklog sizes the run-loop inbox. Entry points drop commands (with a
// warning) rather than block a backend's I/O completion context when it is
// full.
const commandBacklog = 1024

// Compile-time check that the manager satisfies the resolver-facing surface
// backends depend on.
var _ SessionEvents = (*TransportManager)(nil)

// SessionEvents is the callback surface a transport backend needs from the
// manager: handshake completion, session teardown, and byte accounting.
type SessionEvents interface {
	PeerConnected(session TransportSession)
	PeerDisconnected(session TransportSession)
	RecordSentBytes(n uint64)
	RecordReceivedBytes(n uint64)
}

// TransportManager is the single authority over peer connection state. It
// multiplexes the registered transports in registration order (TCP-oriented
// first by convention), queues messages for peers with no session yet, runs
// the periodic cleanup and bandwidth timers, and owns the ephemeral key-pair
// pool handed to backends during handshakes.
//
// All exported methods are safe for concurrent use. Methods that mutate peer
// state enqueue onto the run loop and return immediately.
type TransportManager struct {
	cfg config.TransportsConfig

	// the underlying transports in order of most prominent to least;
	// immutable after construction
	trans []Transport

	resolver RouterInfoResolver

	keys *keypool.Supplier

	// clk drives the cleanup and bandwidth tickers. Tests swap in a mock
	// before Start.
	clk clock.Clock

	// run-loop confined state
	peers        map[common.Hash]*peer
	sessionCount int

	cmds     chan command
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	// cumulative byte counters, bumped from backend I/O contexts
	totalSent     atomic.Uint64
	totalReceived atomic.Uint64

	// most recent bandwidth snapshot, bytes per second
	inBandwidth  atomic.Uint64
	outBandwidth atomic.Uint64

	// previous counter values for the bandwidth delta; run-loop confined
	lastSentBytes     uint64
	lastReceivedBytes uint64
	lastBandwidthAt   time.Time

	externalAddr atomic.Value // net.Addr
}

// NewTransportManager creates a manager over the given transports. The
// transports are tried as connect candidates in the order given; register the
// TCP-oriented transport first. A nil cfg uses defaults.
func NewTransportManager(cfg *config.TransportsConfig, trans ...Transport) *TransportManager {
	if cfg == nil {
		def := config.DefaultTransportsConfig()
		cfg = &def
	}
	tm := &TransportManager{
		cfg:    *cfg,
		trans:  append([]Transport{}, trans...),
		keys:   keypool.NewSupplier(cfg.KeyPoolSize),
		clk:    clock.New(),
		peers:  make(map[common.Hash]*peer),
		cmds:   make(chan command, commandBacklog),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	log.WithFields(logger.Fields{
		"at":              "NewTransportManager",
		"transport_count": len(trans),
	}).Debug("transport manager created")
	return tm
}

// SetResolver installs the network-database collaborator used to look up
// RouterInfos for identities we have never seen. Must be called before Start.
func (tm *TransportManager) SetResolver(r RouterInfoResolver) {
	tm.resolver = r
}

// SetIdentity binds the local router's info to every registered transport.
func (tm *TransportManager) SetIdentity(ident router_info.RouterInfo) error {
	identHash, _ := ident.IdentHash()
	log.WithFields(logger.Fields{
		"at":              "(TransportManager) SetIdentity",
		"identity_hash":   hashPrefix(identHash),
		"transport_count": len(tm.trans),
	}).Debug("setting identity for all transports")
	for i, t := range tm.trans {
		if err := t.SetIdentity(ident); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":              "(TransportManager) SetIdentity",
				"reason":          "transport_rejected_identity",
				"transport_index": i,
			}).Error("failed to set identity for transport")
			return err
		}
	}
	return nil
}

// Name returns the manager's name with the names of every transport it muxes.
func (tm *TransportManager) Name() string {
	name := "Muxed Transport: "
	for _, t := range tm.trans {
		name += t.Name() + ", "
	}
	if len(name) >= 2 && name[len(name)-2:] == ", " {
		name = name[:len(name)-2]
	}
	return name
}

// Start launches the run loop, the cleanup and bandwidth timers, and the
// key-pair producer, then performs initial external-address detection.
func (tm *TransportManager) Start() error {
	if !tm.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	tm.keys.Start()
	tm.lastBandwidthAt = tm.clk.Now()
	go tm.run()
	tm.DetectExternalAddress()
	log.WithFields(logger.Fields{
		"at":              "(TransportManager) Start",
		"transport_count": len(tm.trans),
	}).Debug("transport manager started")
	return nil
}

// Stop halts the timers, joins the key-pair producer, closes the transports
// and stops the run loop. Pending messages are dropped, not drained. Safe to
// call multiple times.
func (tm *TransportManager) Stop() {
	tm.stopOnce.Do(func() {
		if tm.started.Load() {
			close(tm.stopCh)
			<-tm.doneCh
		}
		tm.keys.Stop()
		log.WithFields(logger.Fields{
			"at": "(TransportManager) Stop",
		}).Debug("transport manager stopped")
	})
}

// run owns the peer map and timers. Nothing outside this goroutine may touch
// them.
func (tm *TransportManager) run() {
	cleanup := tm.clk.Ticker(tm.cfg.CleanupInterval)
	defer cleanup.Stop()
	bandwidth := tm.clk.Ticker(tm.cfg.BandwidthInterval)
	defer bandwidth.Stop()

	for {
		select {
		case cmd := <-tm.cmds:
			cmd.execute(tm)
		case <-cleanup.C:
			tm.sweepPeers()
		case <-bandwidth.C:
			tm.updateBandwidth()
		case <-tm.stopCh:
			tm.shutdown()
			close(tm.doneCh)
			return
		}
	}
}

// shutdown closes every transport. Backends terminate their own sessions; no
// in-flight send is drained.
func (tm *TransportManager) shutdown() {
	for i, t := range tm.trans {
		if err := t.Close(); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":              "(TransportManager) shutdown",
				"reason":          "transport_close_failed",
				"transport_index": i,
			}).Warn("error closing transport")
		}
	}
	tm.peers = make(map[common.Hash]*peer)
	tm.sessionCount = 0
}

// post enqueues a command without ever blocking the caller.
func (tm *TransportManager) post(c command) {
	select {
	case <-tm.doneCh:
		log.WithError(ErrShutdown).WithFields(logger.Fields{
			"at": "(TransportManager) post",
		}).Debug("dropping command")
		return
	default:
	}
	select {
	case tm.cmds <- c:
	default:
		log.WithFields(logger.Fields{
			"at":      "(TransportManager) post",
			"reason":  "command_backlog_full",
			"backlog": commandBacklog,
		}).Warn("dropping command")
	}
}

// SendMessage asynchronously sends one message to the peer named by ident.
// Fire-and-forget: if no session exists the message is queued and a connect
// attempt started; queued messages are silently dropped if the peer never
// completes a handshake within the session creation timeout.
func (tm *TransportManager) SendMessage(ident common.Hash, msg i2np.I2NPMessage) {
	if msg == nil {
		return
	}
	tm.SendMessages(ident, msg)
}

// SendMessages asynchronously sends one or more messages to the peer named by
// ident, preserving submission order. Same delivery semantics as SendMessage.
func (tm *TransportManager) SendMessages(ident common.Hash, msgs ...i2np.I2NPMessage) {
	if len(msgs) == 0 {
		return
	}
	owned := append([]i2np.I2NPMessage{}, msgs...)
	tm.post(&sendCommand{ident: ident, msgs: owned})
}

// PeerConnected informs the manager that a handshake completed, inbound or
// outbound. Called by transport backends from their own goroutines.
func (tm *TransportManager) PeerConnected(session TransportSession) {
	if session == nil {
		return
	}
	tm.post(&connectedCommand{session: session})
}

// PeerDisconnected informs the manager that a session ended. Called by
// transport backends from their own goroutines.
func (tm *TransportManager) PeerDisconnected(session TransportSession) {
	if session == nil {
		return
	}
	tm.post(&disconnectedCommand{session: session})
}

// CloseSession asynchronously closes all sessions to the given router. A nil
// router is a no-op, not an error.
func (tm *TransportManager) CloseSession(router *router_info.RouterInfo) {
	if router == nil {
		log.WithFields(logger.Fields{
			"at":     "(TransportManager) CloseSession",
			"reason": "nil_router",
		}).Debug("ignoring close for nil router")
		return
	}
	ident, _ := router.IdentHash()
	tm.CloseSessionTo(ident)
}

// CloseSessionTo asynchronously closes all sessions to the given identity.
// Unknown identities are a no-op.
func (tm *TransportManager) CloseSessionTo(ident common.Hash) {
	tm.post(&closeCommand{ident: ident})
}

// IsConnected reports whether at least one session to ident is established.
func (tm *TransportManager) IsConnected(ident common.Hash) bool {
	connected := false
	tm.inspect(func(tm *TransportManager) {
		p, ok := tm.peers[ident]
		connected = ok && p.connected()
	})
	return connected
}

// PeerCount returns the number of peer records, connected or not.
func (tm *TransportManager) PeerCount() int {
	count := 0
	tm.inspect(func(tm *TransportManager) {
		count = len(tm.peers)
	})
	return count
}

// ActiveSessionCount returns the number of established sessions across all
// transports.
func (tm *TransportManager) ActiveSessionCount() int {
	count := 0
	tm.inspect(func(tm *TransportManager) {
		count = tm.sessionCount
	})
	return count
}

// RandomConnectedPeer returns an arbitrary identity among peers with at least
// one established session, and false if there are none. Used by collaborators
// needing an exploratory peer.
func (tm *TransportManager) RandomConnectedPeer() (common.Hash, bool) {
	var (
		ident common.Hash
		found bool
	)
	tm.inspect(func(tm *TransportManager) {
		connected := make([]common.Hash, 0, len(tm.peers))
		for h, p := range tm.peers {
			if p.connected() {
				connected = append(connected, h)
			}
		}
		if len(connected) == 0 {
			return
		}
		ident = connected[rand.IntN(len(connected))]
		found = true
	})
	return ident, found
}

// Peers returns a read-only snapshot of every peer record for diagnostics.
func (tm *TransportManager) Peers() []PeerInfo {
	var infos []PeerInfo
	tm.inspect(func(tm *TransportManager) {
		infos = make([]PeerInfo, 0, len(tm.peers))
		for ident, p := range tm.peers {
			infos = append(infos, p.snapshot(ident))
		}
	})
	return infos
}

// FormattedSessionInfo returns a human-readable description of the sessions
// to ident for diagnostics and console output. Returns an empty string for
// unknown identities.
func (tm *TransportManager) FormattedSessionInfo(ident common.Hash) string {
	var b strings.Builder
	tm.inspect(func(tm *TransportManager) {
		p, ok := tm.peers[ident]
		if !ok {
			return
		}
		fmt.Fprintf(&b, "%s: %d session(s), %d queued, %d attempt(s)\n",
			hashPrefix(ident), len(p.sessions), len(p.pending), p.attempts)
		for i, s := range p.sessions {
			fmt.Fprintf(&b, "  [%d] send queue: %d\n", i, s.SendQueueSize())
		}
	})
	return b.String()
}

// GetNextKeyPair removes one pre-generated ephemeral key pair from the pool,
// generating inline if the pool is empty. Never returns nil while the
// process has a working entropy source.
func (tm *TransportManager) GetNextKeyPair() *keypool.KeyPair {
	return tm.keys.Acquire()
}

// ReuseKeyPair returns a key pair to the pool for reuse.
func (tm *TransportManager) ReuseKeyPair(pair *keypool.KeyPair) {
	tm.keys.Release(pair)
}

// Transports returns a copy of the registered transports in candidate order.
func (tm *TransportManager) Transports() []Transport {
	out := make([]Transport, len(tm.trans))
	copy(out, tm.trans)
	return out
}

// inspect runs fn on the loop goroutine and waits for it. Returns false (with
// fn never run) when the manager is not running; callers then see their zero
// values, matching an empty peer map.
func (tm *TransportManager) inspect(fn func(tm *TransportManager)) bool {
	if !tm.started.Load() {
		return false
	}
	cmd := &inspectCommand{fn: fn, done: make(chan struct{})}
	select {
	case tm.cmds <- cmd:
	case <-tm.doneCh:
		return false
	}
	select {
	case <-cmd.done:
		return true
	case <-tm.doneCh:
		return false
	}
}

// handleSend resolves the peer record for ident, creating it on first
// contact, and either hands the messages to an established session or queues
// them and starts a connect cycle.
func (tm *TransportManager) handleSend(ident common.Hash, msgs []i2np.I2NPMessage) {
	p, ok := tm.peers[ident]
	if !ok {
		p = newPeer(tm.clk.Now())
		tm.peers[ident] = p
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleSend",
			"reason":    "peer_record_created",
			"peer_hash": hashPrefix(ident),
		}).Debug("first send to unknown peer")
	}

	if p.connected() {
		s := p.sessions[0]
		for _, msg := range msgs {
			if err := s.QueueSendI2NP(msg); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"at":        "(TransportManager) handleSend",
					"reason":    "session_rejected_message",
					"peer_hash": hashPrefix(ident),
				}).Warn("dropping message")
			}
		}
		return
	}

	p.queue(msgs...)
	if !p.connecting {
		tm.connectTo(ident, p)
	}
}

// connectTo starts one connect cycle for ident: resolve the RouterInfo if we
// do not have one, then try the compatible transports in candidate order.
func (tm *TransportManager) connectTo(ident common.Hash, p *peer) {
	p.connecting = true
	p.attempts++
	log.WithFields(logger.Fields{
		"at":        "(TransportManager) connectTo",
		"peer_hash": hashPrefix(ident),
		"attempt":   p.attempts,
	}).Debug("starting connect attempt")

	if p.routerInfo == nil {
		tm.resolveRouterInfo(ident, p)
		return
	}
	tm.dialCandidates(ident, p, *p.routerInfo)
}

// resolveRouterInfo looks the peer up in the network database off-loop. A
// failed lookup aborts the attempt; the record is left to retry on the next
// send or to time out.
func (tm *TransportManager) resolveRouterInfo(ident common.Hash, p *peer) {
	if tm.resolver == nil {
		p.connecting = false
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) resolveRouterInfo",
			"reason":    "no_resolver",
			"peer_hash": hashPrefix(ident),
			"impact":    "cannot connect to unknown peers",
		}).Warn("no router info and no resolver configured")
		return
	}
	timeout := tm.cfg.SessionCreationTimeout
	go func() {
		ri, err := tm.resolver.Lookup(ident, timeout)
		if err != nil || ri == nil {
			log.WithFields(logger.Fields{
				"at":        "(TransportManager) resolveRouterInfo",
				"reason":    "lookup_failed",
				"peer_hash": hashPrefix(ident),
			}).Warn("router info lookup failed")
			tm.post(&attemptFailedCommand{ident: ident})
			return
		}
		tm.post(&resolvedCommand{ident: ident, routerInfo: ri})
	}()
}

// handleResolved records a freshly looked-up RouterInfo and proceeds with the
// outstanding connect cycle. The record may have been evicted while the
// lookup ran; that ends the cycle.
func (tm *TransportManager) handleResolved(ident common.Hash, ri *router_info.RouterInfo) {
	p, ok := tm.peers[ident]
	if !ok {
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleResolved",
			"reason":    "record_evicted",
			"peer_hash": hashPrefix(ident),
		}).Debug("discarding lookup result for evicted peer")
		return
	}
	// A resolved result belongs to a cycle that started with no RouterInfo and
	// is still outstanding. Anything else is a stale lookup for a record that
	// was evicted and re-created in the meantime; dialing on it would race the
	// record's own cycle.
	if !p.connecting || p.routerInfo != nil {
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleResolved",
			"reason":    "stale_lookup",
			"peer_hash": hashPrefix(ident),
		}).Debug("discarding stale lookup result")
		return
	}
	p.routerInfo = ri
	tm.dialCandidates(ident, p, *ri)
}

// dialCandidates picks the compatible transports in registration order and
// dials them off-loop until one succeeds or the list is exhausted.
func (tm *TransportManager) dialCandidates(ident common.Hash, p *peer, ri router_info.RouterInfo) {
	candidates := make([]Transport, 0, len(tm.trans))
	for _, t := range tm.trans {
		if t.Compatible(ri) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		p.connecting = false
		log.WithError(ErrNoTransportAvailable).WithFields(logger.Fields{
			"at":             "(TransportManager) dialCandidates",
			"reason":         "no_compatible_transport",
			"peer_hash":      hashPrefix(ident),
			"num_transports": len(tm.trans),
			"impact":         "peer unreachable",
		}).Error("no compatible transport for peer")
		return
	}
	go tm.dial(ident, ri, candidates)
}

// dial runs off-loop: GetSession blocks on connect and handshake. Success is
// reported through PeerConnected like any inbound session; exhaustion of all
// candidates through attemptFailedCommand.
func (tm *TransportManager) dial(ident common.Hash, ri router_info.RouterInfo, candidates []Transport) {
	for _, t := range candidates {
		s, err := t.GetSession(ri)
		if err != nil || s == nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":        "(TransportManager) dial",
				"reason":    "session_creation_failed",
				"transport": t.Name(),
				"peer_hash": hashPrefix(ident),
			}).Warn("failed to get session, trying next transport")
			continue
		}
		tm.PeerConnected(s)
		return
	}
	tm.post(&attemptFailedCommand{ident: ident})
}

// handleAttemptFailed ends a connect cycle without a session. The record
// stays if messages are still queued (retry on next send, or cleanup will
// reclaim it); otherwise it is evicted immediately.
func (tm *TransportManager) handleAttemptFailed(ident common.Hash) {
	p, ok := tm.peers[ident]
	if !ok {
		return
	}
	p.connecting = false
	log.WithFields(logger.Fields{
		"at":        "(TransportManager) handleAttemptFailed",
		"peer_hash": hashPrefix(ident),
		"attempts":  p.attempts,
		"pending":   len(p.pending),
	}).Debug("connect attempt failed")
	if p.idle() {
		delete(tm.peers, ident)
	}
}

// handleConnected attaches a new session to its peer record and flushes
// everything queued for it, in original submission order.
func (tm *TransportManager) handleConnected(session TransportSession) {
	ident := session.RemoteIdentHash()
	if tm.sessionCount >= tm.cfg.MaxConnections {
		log.WithError(ErrConnectionPoolFull).WithFields(logger.Fields{
			"at":              "(TransportManager) handleConnected",
			"reason":          "connection_pool_full",
			"peer_hash":       hashPrefix(ident),
			"active_sessions": tm.sessionCount,
			"max_connections": tm.cfg.MaxConnections,
		}).Warn("rejecting session, connection pool full")
		if err := session.Close(); err != nil {
			log.WithError(err).Debug("error closing rejected session")
		}
		// A rejected outbound session must still end its connect cycle, or the
		// record stays stuck connecting and later sends never start a new dial.
		tm.handleAttemptFailed(ident)
		return
	}

	p, ok := tm.peers[ident]
	if !ok {
		// unsolicited inbound connection
		p = newPeer(tm.clk.Now())
		tm.peers[ident] = p
	}
	p.addSession(session)
	tm.sessionCount++

	flushed := p.flush(session)
	log.WithFields(logger.Fields{
		"at":        "(TransportManager) handleConnected",
		"peer_hash": hashPrefix(ident),
		"sessions":  len(p.sessions),
		"flushed":   flushed,
	}).Debug("peer connected")
}

// handleDisconnected detaches a session. A record left with no sessions and
// no queued messages is evicted; one with queued messages starts a fresh
// attempt cycle so the queue still has a chance to drain.
func (tm *TransportManager) handleDisconnected(session TransportSession) {
	ident := session.RemoteIdentHash()
	p, ok := tm.peers[ident]
	if !ok {
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleDisconnected",
			"reason":    "unknown_peer",
			"peer_hash": hashPrefix(ident),
		}).Debug("disconnect for untracked peer")
		return
	}
	if !p.removeSession(session) {
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleDisconnected",
			"reason":    "unknown_session",
			"peer_hash": hashPrefix(ident),
		}).Debug("disconnect for untracked session")
		return
	}
	tm.sessionCount--

	if p.connected() {
		return
	}
	if len(p.pending) == 0 {
		delete(tm.peers, ident)
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleDisconnected",
			"reason":    "record_evicted",
			"peer_hash": hashPrefix(ident),
		}).Debug("last session closed, peer evicted")
		return
	}
	// Messages queued behind a session that just died: begin a new cycle with
	// a fresh creation time so the cleanup timer measures from now.
	p.attempts = 0
	p.createdAt = tm.clk.Now()
	if !p.connecting {
		tm.connectTo(ident, p)
	}
}

// handleClose requests teardown of every session to ident. Unknown identities
// are a no-op.
func (tm *TransportManager) handleClose(ident common.Hash) {
	p, ok := tm.peers[ident]
	if !ok {
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) handleClose",
			"reason":    "unknown_peer",
			"peer_hash": hashPrefix(ident),
		}).Debug("close for untracked peer")
		return
	}
	p.closeSessions()
}

// sweepPeers evicts sessionless records older than the session creation
// timeout. Their queued messages are dropped silently; this layer is
// fire-and-forget and never surfaces the loss to the original sender.
func (tm *TransportManager) sweepPeers() {
	now := tm.clk.Now()
	for ident, p := range tm.peers {
		if p.connected() {
			continue
		}
		if now.Sub(p.createdAt) <= tm.cfg.SessionCreationTimeout {
			continue
		}
		if n := len(p.pending); n > 0 {
			log.WithFields(logger.Fields{
				"at":        "(TransportManager) sweepPeers",
				"reason":    "session_creation_timeout",
				"peer_hash": hashPrefix(ident),
				"dropped":   n,
			}).Warn("dropping queued messages for unreachable peer")
		}
		delete(tm.peers, ident)
	}
}
