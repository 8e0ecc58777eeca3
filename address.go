package genet

import (
	"net"
)

// AddressFamily selects between the two supported address shapes. Text
// parsing and DNS resolution are out of scope (spec.md §1); callers
// build Addresses from already-resolved net.IP values.
type AddressFamily uint8

const (
	AddressFamilyV4 AddressFamily = iota
	AddressFamilyV6
)

// Address identifies a datagram endpoint: {family, 16-byte host, port},
// per spec.md §6. For v4 the first 12 bytes of Host are zero by
// convention; a v4-mapped v6 form is also accepted for dual-stack hosts.
type Address struct {
	Family AddressFamily
	Host   [16]byte
	Port   uint16
}

// AddressFromUDP converts a resolved net.UDPAddr into an Address.
func AddressFromUDP(addr *net.UDPAddr) Address {
	var a Address
	a.Port = uint16(addr.Port)
	if v4 := addr.IP.To4(); v4 != nil {
		a.Family = AddressFamilyV4
		copy(a.Host[12:], v4)
		return a
	}
	a.Family = AddressFamilyV6
	copy(a.Host[:], addr.IP.To16())
	return a
}

// UDPAddr converts the Address back into a net.UDPAddr for use with the
// standard socket APIs.
func (a Address) UDPAddr() *net.UDPAddr {
	if a.Family == AddressFamilyV4 {
		return &net.UDPAddr{IP: net.IP(a.Host[12:16]), Port: int(a.Port)}
	}
	ip := make(net.IP, 16)
	copy(ip, a.Host[:])
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}

// Equal reports whether two Addresses identify the same endpoint.
func (a Address) Equal(b Address) bool {
	return a.Family == b.Family && a.Host == b.Host && a.Port == b.Port
}

func (a Address) String() string {
	return a.UDPAddr().String()
}
