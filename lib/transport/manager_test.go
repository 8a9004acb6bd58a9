package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/common/router_info"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-transports/lib/config"
	"github.com/go-i2p/go-transports/lib/i2np"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// newTestManager builds a started manager on a mock clock. Callers must Stop it.
func newTestManager(t *testing.T, cfg *config.TransportsConfig, trans ...Transport) (*TransportManager, *clock.Mock) {
	t.Helper()
	if cfg == nil {
		def := config.DefaultTransportsConfig()
		// tiny key pool so tests do not spend time pre-generating
		def.KeyPoolSize = 1
		cfg = &def
	}
	tm := NewTransportManager(cfg, trans...)
	mock := clock.NewMock()
	tm.clk = mock
	require.NoError(t, tm.Start())
	t.Cleanup(tm.Stop)
	// a synchronous query proves the run loop (and its tickers) are up
	_ = tm.PeerCount()
	return tm, mock
}

// TestSendToUnknownPeerCreatesRecordAndQueues verifies first contact: exactly
// one peer record, the message queued, and exactly one connect attempt.
func TestSendToUnknownPeerCreatesRecordAndQueues(t *testing.T) {
	ident := testIdent(0x11)
	session := newMockSession(ident)
	trans := &mockTransport{name: "NTCP2", compatible: true, session: session}
	tm, _ := newTestManager(t, nil, trans)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	msg := i2np.NewDataMessage([]byte("hello"))
	tm.SendMessage(ident, msg)

	assert.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	assert.Equal(t, 1, tm.PeerCount())
	assert.Equal(t, 1, trans.calls(), "exactly one connect attempt expected")

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, msg, sent[0])
}

// TestPendingFlushedInSubmissionOrder verifies messages queued before any
// session exists reach the eventual session in original order, exactly once.
func TestPendingFlushedInSubmissionOrder(t *testing.T) {
	ident := testIdent(0x22)
	// no compatible transport: messages stay queued
	trans := &mockTransport{name: "NTCP2", compatible: false}
	tm, _ := newTestManager(t, nil, trans)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	m1 := i2np.NewDataMessage([]byte("m1"))
	m2 := i2np.NewDataMessage([]byte("m2"))
	tm.SendMessage(ident, m1)
	tm.SendMessage(ident, m2)

	assert.Eventually(t, func() bool {
		for _, p := range tm.Peers() {
			if p.Identity == ident && p.Pending == 2 {
				return true
			}
		}
		return false
	}, waitFor, tick, "both messages should be queued")

	// the backend reports a completed (inbound) handshake
	session := newMockSession(ident)
	tm.PeerConnected(session)

	assert.Eventually(t, func() bool {
		return len(session.sentMessages()) == 2
	}, waitFor, tick)

	sent := session.sentMessages()
	assert.Equal(t, m1, sent[0])
	assert.Equal(t, m2, sent[1])

	for _, p := range tm.Peers() {
		if p.Identity == ident {
			assert.Equal(t, 0, p.Pending, "pending must be cleared after flush")
			assert.Equal(t, 1, p.Sessions)
		}
	}
}

// TestSendMessagesPreservesBatchOrder verifies the batch entry point keeps
// submission order across the flush.
func TestSendMessagesPreservesBatchOrder(t *testing.T) {
	ident := testIdent(0x23)
	trans := &mockTransport{name: "NTCP2", compatible: false}
	tm, _ := newTestManager(t, nil, trans)

	msgs := []i2np.I2NPMessage{
		i2np.NewDataMessage([]byte("a")),
		i2np.NewDataMessage([]byte("b")),
		i2np.NewDataMessage([]byte("c")),
	}
	tm.SendMessages(ident, msgs...)

	session := newMockSession(ident)
	tm.PeerConnected(session)

	assert.Eventually(t, func() bool {
		return len(session.sentMessages()) == 3
	}, waitFor, tick)
	assert.Equal(t, msgs, session.sentMessages())
}

// TestSendToConnectedPeerBypassesQueue verifies direct delivery once a
// session exists.
func TestSendToConnectedPeerBypassesQueue(t *testing.T) {
	ident := testIdent(0x24)
	session := newMockSession(ident)
	tm, _ := newTestManager(t, nil)

	tm.PeerConnected(session)
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	msg := i2np.NewDataMessage([]byte("direct"))
	tm.SendMessage(ident, msg)

	assert.Eventually(t, func() bool {
		return len(session.sentMessages()) == 1
	}, waitFor, tick)
	for _, p := range tm.Peers() {
		if p.Identity == ident {
			assert.Equal(t, 0, p.Pending)
		}
	}
}

// TestTransportFallbackOrder verifies the ordered-candidate policy: when the
// first transport's dial fails, the next compatible one is tried within the
// same connect cycle.
func TestTransportFallbackOrder(t *testing.T) {
	ident := testIdent(0x33)
	session := newMockSession(ident)
	tcp := &mockTransport{name: "NTCP2", compatible: true, sessionErr: errors.New("refused")}
	udp := &mockTransport{name: "SSU2", compatible: true, session: session}
	tm, _ := newTestManager(t, nil, tcp, udp)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	tm.SendMessage(ident, i2np.NewDataMessage([]byte("x")))

	assert.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)
	assert.Equal(t, 1, tcp.calls())
	assert.Equal(t, 1, udp.calls())
}

// TestAllCandidatesFailLeavesRecordQueued verifies an exhausted connect cycle
// keeps the record (and its queue) for a later retry or the cleanup sweep.
func TestAllCandidatesFailLeavesRecordQueued(t *testing.T) {
	ident := testIdent(0x34)
	trans := &mockTransport{name: "NTCP2", compatible: true, sessionErr: errors.New("refused")}
	tm, _ := newTestManager(t, nil, trans)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	tm.SendMessage(ident, i2np.NewDataMessage([]byte("x")))

	assert.Eventually(t, func() bool {
		for _, p := range tm.Peers() {
			if p.Identity == ident && !p.Connecting && p.Attempts == 1 {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.False(t, tm.IsConnected(ident))
	assert.Equal(t, 1, tm.PeerCount())
}

// TestResolutionFailureAbortsAttempt verifies a failed netdb lookup ends the
// cycle without touching the transports.
func TestResolutionFailureAbortsAttempt(t *testing.T) {
	ident := testIdent(0x35)
	trans := &mockTransport{name: "NTCP2", compatible: true}
	tm, _ := newTestManager(t, nil, trans)
	tm.SetResolver(&mockResolver{err: errors.New("not found")})

	tm.SendMessage(ident, i2np.NewDataMessage([]byte("x")))

	assert.Eventually(t, func() bool {
		for _, p := range tm.Peers() {
			if p.Identity == ident && !p.Connecting {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.Equal(t, 0, trans.calls())
}

// TestCleanupEvictsStaleSessionlessPeer verifies a sessionless record older
// than the creation timeout is evicted on the next sweep and its queue
// dropped.
func TestCleanupEvictsStaleSessionlessPeer(t *testing.T) {
	ident := testIdent(0x44)
	trans := &mockTransport{name: "NTCP2", compatible: false}
	tm, mock := newTestManager(t, nil, trans)

	tm.SendMessage(ident, i2np.NewDataMessage([]byte("doomed")))
	require.Eventually(t, func() bool {
		return tm.PeerCount() == 1
	}, waitFor, tick)

	// past the 10s creation timeout; the 5s sweep fires on the way
	for i := 0; i < 4; i++ {
		mock.Add(5 * time.Second)
	}

	assert.Eventually(t, func() bool {
		return tm.PeerCount() == 0
	}, waitFor, tick, "stale sessionless record should be evicted")
}

// TestCleanupSparesConnectedPeers verifies connected records survive sweeps
// indefinitely.
func TestCleanupSparesConnectedPeers(t *testing.T) {
	ident := testIdent(0x45)
	tm, mock := newTestManager(t, nil)

	tm.PeerConnected(newMockSession(ident))
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	for i := 0; i < 10; i++ {
		mock.Add(5 * time.Second)
	}

	assert.True(t, tm.IsConnected(ident))
	assert.Equal(t, 1, tm.PeerCount())
}

// TestDisconnectLastSessionEvictsRecord verifies eviction when the last
// session of a pending-empty record ends, and survival when another session
// remains.
func TestDisconnectLastSessionEvictsRecord(t *testing.T) {
	ident := testIdent(0x55)
	s1 := newMockSession(ident)
	s2 := newMockSession(ident)
	tm, _ := newTestManager(t, nil)

	tm.PeerConnected(s1)
	tm.PeerConnected(s2)
	require.Eventually(t, func() bool {
		return tm.ActiveSessionCount() == 2
	}, waitFor, tick)

	tm.PeerDisconnected(s1)
	assert.Eventually(t, func() bool {
		return tm.ActiveSessionCount() == 1
	}, waitFor, tick)
	assert.True(t, tm.IsConnected(ident), "record must survive a non-last disconnect")

	tm.PeerDisconnected(s2)
	assert.Eventually(t, func() bool {
		return tm.PeerCount() == 0
	}, waitFor, tick, "record must be evicted with the last session")
}

// TestFreshSendAfterFullDisconnectReconnects verifies the NEW -> CONNECTING
// re-entry after a record has been evicted.
func TestFreshSendAfterFullDisconnectReconnects(t *testing.T) {
	ident := testIdent(0x56)
	s1 := newMockSession(ident)
	s2 := newMockSession(ident)
	trans := &mockTransport{name: "NTCP2", compatible: true, session: s2}
	tm, _ := newTestManager(t, nil, trans)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	tm.PeerConnected(s1)
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)
	tm.PeerDisconnected(s1)
	require.Eventually(t, func() bool {
		return tm.PeerCount() == 0
	}, waitFor, tick)

	tm.SendMessage(ident, i2np.NewDataMessage([]byte("again")))
	assert.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)
	assert.Equal(t, 1, trans.calls())
}

// TestCloseSessionClosesAllSessions verifies CloseSessionTo requests teardown
// of every session for the identity, and that unknown or nil targets are
// harmless no-ops.
func TestCloseSessionClosesAllSessions(t *testing.T) {
	ident := testIdent(0x66)
	s1 := newMockSession(ident)
	s2 := newMockSession(ident)
	tm, _ := newTestManager(t, nil)

	tm.PeerConnected(s1)
	tm.PeerConnected(s2)
	require.Eventually(t, func() bool {
		return tm.ActiveSessionCount() == 2
	}, waitFor, tick)

	tm.CloseSessionTo(ident)
	assert.Eventually(t, func() bool {
		return s1.isClosed() && s2.isClosed()
	}, waitFor, tick)

	// no-ops
	tm.CloseSession(nil)
	tm.CloseSessionTo(testIdent(0xEE))
}

// TestConnectionPoolLimit verifies sessions beyond MaxConnections are
// rejected and closed.
func TestConnectionPoolLimit(t *testing.T) {
	cfg := config.DefaultTransportsConfig()
	cfg.KeyPoolSize = 1
	cfg.MaxConnections = 1
	tm, _ := newTestManager(t, &cfg)

	s1 := newMockSession(testIdent(0x71))
	s2 := newMockSession(testIdent(0x72))
	tm.PeerConnected(s1)
	tm.PeerConnected(s2)

	assert.Eventually(t, func() bool {
		return s2.isClosed()
	}, waitFor, tick, "session beyond the cap should be closed")
	assert.Equal(t, 1, tm.ActiveSessionCount())
	assert.False(t, s1.isClosed())
}

// TestRandomConnectedPeer verifies selection only considers peers with at
// least one session.
func TestRandomConnectedPeer(t *testing.T) {
	tm, _ := newTestManager(t, nil)

	_, ok := tm.RandomConnectedPeer()
	assert.False(t, ok, "no connected peers yet")

	ident := testIdent(0x77)
	tm.PeerConnected(newMockSession(ident))
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	got, ok := tm.RandomConnectedPeer()
	require.True(t, ok)
	assert.Equal(t, ident, got)
}

// TestStopIsIdempotentAndQueriesDegrade verifies queries after Stop return
// zero values instead of blocking.
func TestStopIsIdempotentAndQueriesDegrade(t *testing.T) {
	trans := &mockTransport{name: "NTCP2"}
	tm, _ := newTestManager(t, nil, trans)

	tm.Stop()
	tm.Stop()

	assert.Equal(t, 0, tm.PeerCount())
	assert.False(t, tm.IsConnected(testIdent(0x01)))
	assert.True(t, trans.isClosed(), "transports must be closed on Stop")
}

// TestStartTwiceFails verifies double Start is rejected.
func TestStartTwiceFails(t *testing.T) {
	tm, _ := newTestManager(t, nil)
	assert.ErrorIs(t, tm.Start(), ErrAlreadyStarted)
}

// TestName verifies the composite transport name.
func TestName(t *testing.T) {
	tm := NewTransportManager(nil,
		&mockTransport{name: "NTCP2"},
		&mockTransport{name: "SSU2"},
	)
	assert.Equal(t, "Muxed Transport: NTCP2, SSU2", tm.Name())
}

// TestFormattedSessionInfo verifies the diagnostic string for connected and
// unknown peers.
func TestFormattedSessionInfo(t *testing.T) {
	ident := testIdent(0x77)
	tm, _ := newTestManager(t, nil)

	assert.Empty(t, tm.FormattedSessionInfo(ident))

	tm.PeerConnected(newMockSession(ident))
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	info := tm.FormattedSessionInfo(ident)
	assert.Contains(t, info, "1 session(s)")
	assert.Contains(t, info, "send queue: 0")
}

// TestPoolFullRejectionAllowsRetry verifies a session rejected at the
// connection cap ends its connect cycle: once capacity frees, the next send
// starts a fresh dial and the queued messages still reach the peer.
func TestPoolFullRejectionAllowsRetry(t *testing.T) {
	cfg := config.DefaultTransportsConfig()
	cfg.KeyPoolSize = 1
	cfg.MaxConnections = 1
	identA := testIdent(0x81)
	identB := testIdent(0x82)
	sA := newMockSession(identA)
	sB := newMockSession(identB)
	trans := &mockTransport{name: "NTCP2", compatible: true, session: sB}
	tm, _ := newTestManager(t, &cfg, trans)
	tm.SetResolver(&mockResolver{ri: &router_info.RouterInfo{}})

	tm.PeerConnected(sA)
	require.Eventually(t, func() bool {
		return tm.IsConnected(identA)
	}, waitFor, tick)

	// the dial to B succeeds, but its session is rejected at the cap
	tm.SendMessage(identB, i2np.NewDataMessage([]byte("m1")))
	require.Eventually(t, func() bool {
		return sB.isClosed()
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		for _, p := range tm.Peers() {
			if p.Identity == identB {
				return !p.Connecting && p.Pending == 1
			}
		}
		return false
	}, waitFor, tick, "rejection must end the connect cycle, keeping the queue")

	tm.PeerDisconnected(sA)
	require.Eventually(t, func() bool {
		return tm.ActiveSessionCount() == 0
	}, waitFor, tick)

	tm.SendMessage(identB, i2np.NewDataMessage([]byte("m2")))
	assert.Eventually(t, func() bool {
		return tm.IsConnected(identB)
	}, waitFor, tick)
	assert.Equal(t, 2, trans.calls(), "freed capacity must allow a second dial")
	assert.Len(t, sB.sentMessages(), 2, "both queued messages must flush")
}

// TestStaleLookupResultDoesNotDial verifies a lookup result arriving for a
// record that is not waiting on one (evicted and re-created meanwhile, or
// already connected) is discarded instead of starting a dial.
func TestStaleLookupResultDoesNotDial(t *testing.T) {
	ident := testIdent(0x83)
	trans := &mockTransport{name: "NTCP2", compatible: true, session: newMockSession(ident)}
	tm, _ := newTestManager(t, nil, trans)

	tm.PeerConnected(newMockSession(ident))
	require.Eventually(t, func() bool {
		return tm.IsConnected(ident)
	}, waitFor, tick)

	// a lookup from a previous life of this record completes late
	tm.post(&resolvedCommand{ident: ident, routerInfo: &router_info.RouterInfo{}})

	// a later command proves the resolved one has been processed
	assert.Eventually(t, func() bool {
		return tm.PeerCount() == 1
	}, waitFor, tick)
	assert.Equal(t, 0, trans.calls(), "stale lookup result must not start a dial")
}
