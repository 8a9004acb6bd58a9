// Package keypool pre-generates ephemeral X25519 key pairs on a background
// goroutine so connection setup never waits on asymmetric key generation.
//
// The pool is a plain slice guarded by a mutex/condition pair: the producer
// sleeps until consumption opens a deficit, refills one pair at a time, and
// re-checks for shutdown between pairs so Stop joins promptly even mid-batch.
// Acquire never blocks on the producer; an empty pool falls back to inline
// generation.
package keypool

import (
	"sync"

	"github.com/go-i2p/crypto/curve25519"
	"github.com/go-i2p/crypto/types"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// KeyPair is ephemeral key-agreement material for one handshake. Single-use
// by convention; see Release.
type KeyPair struct {
	Public  types.PublicEncryptionKey
	Private types.PrivateEncryptionKey
}

// Supplier maintains a pool of pre-generated key pairs at a target size.
type Supplier struct {
	target int

	mu   sync.Mutex
	cond *sync.Cond
	pool []*KeyPair

	running bool
	done    chan struct{}
}

// NewSupplier creates a supplier that keeps target pairs pooled. The producer
// does not run until Start.
func NewSupplier(target int) *Supplier {
	s := &Supplier{target: target}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the background producer. Calling Start on a running
// supplier is a no-op.
func (s *Supplier) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.run()
	log.WithFields(logger.Fields{
		"at":     "(Supplier) Start",
		"target": s.target,
	}).Debug("key pair producer started")
}

// Stop signals the producer and joins it, even mid-generation. Pairs already
// pooled are not revoked and remain acquirable. Safe to call on a stopped
// supplier.
func (s *Supplier) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.cond.Signal()
	s.mu.Unlock()
	<-done
	log.WithFields(logger.Fields{
		"at": "(Supplier) Stop",
	}).Debug("key pair producer stopped")
}

// Acquire removes one pre-generated pair from the pool. If the pool is empty
// the pair is generated inline, so the call never blocks on the producer.
// Must not be called from a loop that cannot afford the inline fallback's
// CPU-bound work.
func (s *Supplier) Acquire() *KeyPair {
	s.mu.Lock()
	if n := len(s.pool); n > 0 {
		pair := s.pool[0]
		s.pool = s.pool[1:]
		// consumption opened a deficit
		s.cond.Signal()
		s.mu.Unlock()
		return pair
	}
	s.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":     "(Supplier) Acquire",
		"reason": "pool_empty",
	}).Debug("generating key pair inline")
	return generate()
}

// Release returns a pair to the pool for reuse. Reusing ephemeral key
// material weakens the ephemeral-key guarantee; this mirrors the historical
// behavior and callers are free to never release. Pairs are dropped when the
// supplier is stopped or the pool is full.
func (s *Supplier) Release(pair *KeyPair) {
	if pair == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || len(s.pool) >= s.target {
		return
	}
	s.pool = append(s.pool, pair)
}

// Size returns the number of pairs currently pooled.
func (s *Supplier) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pool)
}

// run refills the pool whenever consumption opens a deficit, one pair at a
// time so a Stop mid-batch is honored between generations.
func (s *Supplier) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.running && len(s.pool) >= s.target {
			s.cond.Wait()
		}
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		pair := generate()

		s.mu.Lock()
		if s.running && len(s.pool) < s.target {
			s.pool = append(s.pool, pair)
		}
		s.mu.Unlock()
	}
}

// generate creates one X25519 pair. Generation only fails when the system
// entropy source is broken; retrying is all that can be done in that state.
func generate() *KeyPair {
	for {
		pub, priv, err := curve25519.GenerateKeyPair()
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "generate",
				"reason": "keygen_failed",
				"impact": "system entropy may be exhausted",
			}).Error("X25519 key generation failed, retrying")
			continue
		}
		return &KeyPair{Public: pub, Private: priv}
	}
}
