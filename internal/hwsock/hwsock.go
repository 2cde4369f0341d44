// Package hwsock abstracts a hardware TCP/IP offload chip of the W5500
// family: a fixed set of sockets driven through register commands, with
// the TCP and ARP state machines running on the chip instead of the host.
package hwsock

import (
	"fmt"
	"net/netip"
)

// Handle identifies one of the chip's hardware sockets.
type Handle uint8

// Protocol selects the mode a socket is opened in.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// Status is a socket status register value. The constants use the chip's
// native encoding so drivers can pass register reads through unchanged.
type Status uint8

const (
	StatusClosed      Status = 0x00
	StatusInit        Status = 0x13
	StatusListen      Status = 0x14
	StatusEstablished Status = 0x17
	StatusCloseWait   Status = 0x1C
	StatusUDP         Status = 0x22
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusInit:
		return "init"
	case StatusListen:
		return "listen"
	case StatusEstablished:
		return "established"
	case StatusCloseWait:
		return "close_wait"
	case StatusUDP:
		return "udp"
	default:
		return fmt.Sprintf("status(0x%02X)", uint8(s))
	}
}

// LinkState reports the PHY link as the chip sees it.
type LinkState struct {
	Up         bool `json:"up"`
	Speed100M  bool `json:"speed_100m"`
	FullDuplex bool `json:"full_duplex"`
}

// NetworkConfig is the static addressing programmed into the chip.
type NetworkConfig struct {
	MAC        [6]byte
	LocalIP    netip.Addr
	SubnetMask netip.Addr
	Gateway    netip.Addr
}

// Transport is the socket-command surface of the offload chip. Calls map
// one-to-one onto chip commands; none of them block beyond the register
// exchange itself, so polling loops above decide all timing.
//
// Implementations must be safe for use from a single goroutine at a time.
// Callers that share a Transport serialize access themselves.
type Transport interface {
	// Open readies a socket in the given mode bound to localPort.
	// Port 0 lets the driver pick an ephemeral port.
	Open(proto Protocol, localPort uint16) (Handle, error)

	// Connect issues a TCP connect command. It returns once the command is
	// accepted; the connection completes asynchronously and is observed
	// through Status.
	Connect(h Handle, ip netip.Addr, port uint16) error

	// Send queues p for transmission and returns the number of bytes the
	// chip accepted, which may be less than len(p).
	Send(h Handle, p []byte) (int, error)

	// Receive drains up to maxLen buffered bytes. It returns nil with no
	// error when nothing is buffered.
	Receive(h Handle, maxLen int) ([]byte, error)

	// Status reads the socket status register.
	Status(h Handle) (Status, error)

	// Close releases the socket. Closing an already closed handle is not
	// an error.
	Close(h Handle) error

	// LinkState reads the PHY status register.
	LinkState() (LinkState, error)

	// ForceARPRefresh invalidates any cached hardware address for ip and
	// makes the next connect re-resolve it on the wire.
	ForceARPRefresh(ip netip.Addr) error
}
