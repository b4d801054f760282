package core

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressKind tags the concrete form an Address holds. spec.md §4.E
// calls for a tagged union of recognized transport address forms;
// equality holds only within a variant.
type AddressKind uint8

const (
	// AddressTCP is a bare {ip, port} pair for the stdlib-net transport.
	AddressTCP AddressKind = iota
	// AddressWebSocket is a ws:// or wss:// URL for the gorilla/websocket transport.
	AddressWebSocket
	// AddressMultiaddr is an opaque multiformats/go-multiaddr string, a
	// home for layered P2P transports beyond this module's scope.
	AddressMultiaddr
)

// Address is the tagged union of spec.md §4.E. Exactly one of the
// fields matching Kind is meaningful; the others are zero.
type Address struct {
	Kind AddressKind

	Host string
	Port uint16

	URL string

	Multiaddr string
}

// TCPAddress constructs an AddressTCP.
func TCPAddress(host string, port uint16) Address {
	return Address{Kind: AddressTCP, Host: host, Port: port}
}

// WebSocketAddressValue constructs an AddressWebSocket.
func WebSocketAddressValue(url string) Address {
	return Address{Kind: AddressWebSocket, URL: url}
}

// MultiaddrAddressValue constructs an AddressMultiaddr.
func MultiaddrAddressValue(ma string) Address {
	return Address{Kind: AddressMultiaddr, Multiaddr: ma}
}

// Equal reports value equality within the same variant; addresses of
// different kinds are never equal.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AddressTCP:
		return a.Host == b.Host && a.Port == b.Port
	case AddressWebSocket:
		return a.URL == b.URL
	case AddressMultiaddr:
		return a.Multiaddr == b.Multiaddr
	default:
		return false
	}
}

// String renders the address the way it is advertised over the wire
// in MyServerAddress (spec.md §4.H) and used as PeerDB's map keys.
func (a Address) String() string {
	switch a.Kind {
	case AddressTCP:
		if a.Host == "::" {
			return fmt.Sprintf("::%d", a.Port)
		}
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	case AddressWebSocket:
		return a.URL
	case AddressMultiaddr:
		return a.Multiaddr
	default:
		return ""
	}
}

// IsSelfSubstitution reports whether this address is the special
// "::" form of MyServerAddress meaning "use the IP you see me on,
// substituting the port I advertise" (spec.md §4.H).
func (a Address) IsSelfSubstitution() bool {
	return a.Kind == AddressTCP && a.Host == "::"
}

// WithHost returns a copy of a with Host replaced; used to resolve an
// IsSelfSubstitution address against the observed remote IP.
func (a Address) WithHost(host string) Address {
	a.Host = host
	return a
}

// addressFromHostPortString parses the "host:port" wire form used by
// NodeResponse/MyServerAddress entries tagged AddressTCP. An
// unparseable port yields port 0 rather than an error, since this
// helper feeds a best-effort gossip path (spec.md §4.H) rather than a
// validated boundary.
func addressFromHostPortString(s string) Address {
	if strings.HasPrefix(s, "::") {
		port, err := strconv.ParseUint(strings.TrimPrefix(s, "::"), 10, 16)
		if err != nil {
			port = 0
		}
		return TCPAddress("::", uint16(port))
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return TCPAddress(s, 0)
	}
	host, portStr := s[:idx], s[idx+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return TCPAddress(host, 0)
	}
	return TCPAddress(host, uint16(port))
}
