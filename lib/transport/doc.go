// Package transport implements the transport-management core of an I2P-style
// overlay router: it multiplexes outbound and inbound peer connections across
// independent wire transports, queues messages while a handshake is pending,
// tracks bandwidth, and reclaims state for peers that never connect.
//
// # Overview
//
// The TransportManager is the single authority over per-peer connection
// state. Callers hand it identity hashes and I2NP messages; it resolves or
// creates a peer record, attempts a connection through one of the registered
// transport backends, and flushes queued messages once a backend reports a
// completed handshake.
//
// Supported backend shapes:
//   - TCP-oriented (NTCP2-style): registered first, tried first
//   - datagram-oriented (SSU2-style): tried when the TCP candidate is
//     incompatible or fails
//
// Byte-level framing and handshake cryptography belong to the backends; this
// package never inspects message contents.
//
// # Concurrency Model
//
// All peer-map and timer state is confined to a single goroutine. The
// exported entry points (SendMessage, PeerConnected, PeerDisconnected,
// CloseSession) enqueue commands onto that goroutine and return immediately;
// they never block on I/O. Byte counters are plain atomics and may be bumped
// from any backend completion context. The ephemeral key-pair pool runs its
// own producer goroutine and never touches peer state.
//
// # Usage Example
//
//	cfg := config.DefaultTransportsConfig()
//	tm := transport.NewTransportManager(&cfg, ntcp2Transport, ssu2Transport)
//	tm.SetResolver(netdb)
//	if err := tm.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Fire-and-forget: queued until a session exists, then flushed in order.
//	tm.SendMessage(peerHash, i2np.NewDataMessage(payload))
//
//	tm.Stop()
//
// # Delivery Semantics
//
// Sending is best-effort. Messages submitted for one identity before a
// session exists are delivered to the eventual session in submission order,
// exactly once. Peers that never complete a handshake within the session
// creation timeout are evicted and their queued messages dropped; the drop is
// logged, never surfaced to the sender.
package transport
