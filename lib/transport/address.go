package transport

import (
	"net"

	"github.com/go-i2p/logger"
)

// DetectExternalAddress derives the router's externally reachable address by
// introspecting the registered transports' listeners, in candidate order.
// The first globally routable address wins and is cached. Runs at Start and
// may be invoked again on demand (e.g. after an interface change); the cached
// value is only replaced on success.
func (tm *TransportManager) DetectExternalAddress() net.Addr {
	for _, t := range tm.trans {
		addr := t.Addr()
		if addr == nil {
			continue
		}
		ip := addrIP(addr)
		if ip == nil || !isExternalIP(ip) {
			continue
		}
		tm.externalAddr.Store(addr)
		log.WithFields(logger.Fields{
			"at":        "(TransportManager) DetectExternalAddress",
			"transport": t.Name(),
			"address":   addr.String(),
		}).Debug("detected external address")
		return addr
	}
	log.WithFields(logger.Fields{
		"at":     "(TransportManager) DetectExternalAddress",
		"reason": "no_routable_listener",
	}).Debug("no externally routable address detected")
	return tm.ExternalAddress()
}

// ExternalAddress returns the most recently detected external address, or nil
// if detection has never succeeded. Collaborators use it for
// self-advertisement.
func (tm *TransportManager) ExternalAddress() net.Addr {
	addr, _ := tm.externalAddr.Load().(net.Addr)
	return addr
}

// addrIP extracts the IP from a listener address.
func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// isExternalIP reports whether ip is usable as a published reachable address.
func isExternalIP(ip net.IP) bool {
	return ip.IsGlobalUnicast() && !ip.IsPrivate()
}
