// Package transport implements sending RTPS messages over UDP
// unicast and IPv4 multicast.
package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/katzenpost/rtpscore/locator"
)

// Sender transmits a fully-encoded RTPS message to a locator.
type Sender interface {
	Send(loc locator.Locator, message []byte) error
	Close() error
}

// UDPSender is the reference Sender: plain unicast via a *net.UDPConn
// and IPv4 multicast via golang.org/x/net/ipv4 for TTL control, the
// way the original implementation's UDPSender distinguished the two.
type UDPSender struct {
	conn      *net.UDPConn
	multicast *ipv4.PacketConn
	ttl       int
}

// NewUDPSender opens an unbound UDP socket for sending and wraps it
// for multicast TTL control.
func NewUDPSender(ttl int) (*UDPSender, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("transport: opening udp socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: setting multicast ttl: %w", err)
	}
	return &UDPSender{conn: conn, multicast: pc, ttl: ttl}, nil
}

// Send transmits message to loc over UDPv4. Non-UDPv4 locators (e.g.
// reserved IPv6 multicast) are rejected per the transport's scope.
func (s *UDPSender) Send(loc locator.Locator, message []byte) error {
	if loc.Kind != locator.KindUDPv4 {
		return fmt.Errorf("transport: unsupported locator kind %d", loc.Kind)
	}
	addr := loc.UDPAddr()
	if addr == nil {
		return fmt.Errorf("transport: locator %s has no udp address", loc)
	}
	if loc.IsMulticast() {
		_, err := s.multicast.WriteTo(message, nil, addr)
		return err
	}
	_, err := s.conn.WriteToUDP(message, addr)
	return err
}

// Close releases the underlying socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}
