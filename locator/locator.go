// Package locator implements the RTPS Locator: the address/port pair,
// tagged by transport kind, used to reach a remote Participant.
package locator

import (
	"fmt"
	"net"
)

// Kind tags the transport a Locator's address is interpreted under.
type Kind int32

const (
	KindInvalid Kind = -1
	KindReserved Kind = 0
	KindUDPv4    Kind = 1
	KindUDPv6    Kind = 2
)

// AddressLength is the size in bytes of a Locator's address field,
// wide enough to hold an IPv6 address; IPv4 addresses occupy the
// final 4 bytes with the first 12 zeroed.
const AddressLength = 16

// Locator names one address a Participant, Writer, or Reader can be
// reached at.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [AddressLength]byte
}

// Invalid is the reserved locator meaning "no locator".
var Invalid = Locator{Kind: KindInvalid, Port: 0}

// FromUDPAddr builds a Locator from a resolved UDP address.
func FromUDPAddr(addr *net.UDPAddr) Locator {
	var loc Locator
	loc.Port = uint32(addr.Port)
	if v4 := addr.IP.To4(); v4 != nil {
		loc.Kind = KindUDPv4
		copy(loc.Address[12:], v4)
		return loc
	}
	loc.Kind = KindUDPv6
	copy(loc.Address[:], addr.IP.To16())
	return loc
}

// UDPAddr converts the Locator back into a *net.UDPAddr for dialing
// or listening. It returns nil for non-UDP kinds.
func (l Locator) UDPAddr() *net.UDPAddr {
	switch l.Kind {
	case KindUDPv4:
		return &net.UDPAddr{IP: net.IP(l.Address[12:16]), Port: int(l.Port)}
	case KindUDPv6:
		ip := make(net.IP, 16)
		copy(ip, l.Address[:])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}
	default:
		return nil
	}
}

// IsMulticast reports whether the locator's address is a multicast
// group address.
func (l Locator) IsMulticast() bool {
	addr := l.UDPAddr()
	return addr != nil && addr.IP.IsMulticast()
}

func (l Locator) String() string {
	if addr := l.UDPAddr(); addr != nil {
		return addr.String()
	}
	return fmt.Sprintf("locator{kind=%d port=%d}", l.Kind, l.Port)
}

// List is an ordered collection of Locators, as carried by discovery
// data and by InfoReply submessages.
type List []Locator

// Contains reports whether the list holds an identical locator.
func (ll List) Contains(l Locator) bool {
	for _, existing := range ll {
		if existing == l {
			return true
		}
	}
	return false
}
