package network

import "net/netip"

// AnyAddress is the wildcard bind address. It is the zero netip.Addr so
// that a zero-valued key field means "any".
var AnyAddress = netip.Addr{}

// NormalizeBindAddress maps the unspecified addresses (0.0.0.0 and ::) to
// AnyAddress so both spellings bind the same wildcard key.
func NormalizeBindAddress(addr netip.Addr) netip.Addr {
	if !addr.IsValid() || addr.IsUnspecified() {
		return AnyAddress
	}
	return addr.Unmap()
}

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// IsBroadcastOrMulticast reports whether addr is a multicast address, the
// limited broadcast address, or the directed broadcast address of prefix.
func IsBroadcastOrMulticast(addr netip.Addr, prefix netip.Prefix) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return false
	}
	if addr.IsMulticast() || addr == limitedBroadcast {
		return true
	}
	if !addr.Is4() || !prefix.IsValid() || !prefix.Addr().Is4() {
		return false
	}
	bits := prefix.Bits()
	if bits >= 32 || !prefix.Contains(addr) {
		return false
	}
	a := addr.As4()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	hostMask := uint32(1)<<(32-bits) - 1
	return v&hostMask == hostMask
}

// BroadcastAddress returns the directed broadcast address of an IPv4
// prefix, or the limited broadcast address for anything else.
func BroadcastAddress(prefix netip.Prefix) netip.Addr {
	if !prefix.IsValid() || !prefix.Addr().Is4() || prefix.Bits() >= 32 {
		return limitedBroadcast
	}
	a := prefix.Masked().Addr().As4()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= uint32(1)<<(32-prefix.Bits()) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
