package transport

import (
	"net"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"

	"github.com/go-i2p/go-transports/lib/i2np"
)

// mockSession implements TransportSession for testing
type mockSession struct {
	ident common.Hash

	mu     sync.Mutex
	sent   []i2np.I2NPMessage
	closed bool
}

func newMockSession(ident common.Hash) *mockSession {
	return &mockSession{ident: ident}
}

func (m *mockSession) QueueSendI2NP(msg i2np.I2NPMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSession) SendQueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSession) ReadNextI2NP() (i2np.I2NPMessage, error) {
	return nil, nil
}

func (m *mockSession) RemoteIdentHash() common.Hash {
	return m.ident
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSession) sentMessages() []i2np.I2NPMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]i2np.I2NPMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockTransport implements Transport for testing. GetSession hands out the
// configured session or error and counts calls.
type mockTransport struct {
	name       string
	compatible bool

	mu              sync.Mutex
	session         TransportSession
	sessionErr      error
	getSessionCalls int
	closed          bool
}

func (m *mockTransport) Accept() (net.Conn, error) { return nil, nil }

func (m *mockTransport) Addr() net.Addr { return nil }

func (m *mockTransport) SetIdentity(ident router_info.RouterInfo) error { return nil }

func (m *mockTransport) GetSession(routerInfo router_info.RouterInfo) (TransportSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSessionCalls++
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return m.session, nil
}

func (m *mockTransport) Compatible(routerInfo router_info.RouterInfo) bool {
	return m.compatible
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) Name() string { return m.name }

func (m *mockTransport) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionCalls
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockTransportWithAddr reports a fixed listener address.
type mockTransportWithAddr struct {
	mockTransport
	addr net.Addr
}

func (m *mockTransportWithAddr) Addr() net.Addr { return m.addr }

// mockResolver implements RouterInfoResolver for testing
type mockResolver struct {
	ri  *router_info.RouterInfo
	err error

	mu      sync.Mutex
	lookups int
}

func (m *mockResolver) Lookup(hash common.Hash, timeout time.Duration) (*router_info.RouterInfo, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.ri, nil
}

func testIdent(b byte) common.Hash {
	var h common.Hash
	for i := range h {
		h[i] = b
	}
	return h
}
