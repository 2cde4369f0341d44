package hwsocktest

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/hwsock"
)

// SocketCount matches the socket bank of the emulated chip.
const SocketCount = 8

var (
	errInvalidHandle = errors.New("hwsocktest: invalid socket handle")
	errSocketClosed  = errors.New("hwsocktest: socket not open")
	errNoFreeSocket  = errors.New("hwsocktest: no free socket")
)

type chipSocket struct {
	inUse  bool
	proto  hwsock.Protocol
	status hwsock.Status
	rx     []byte

	pending        bool
	pendingAt      time.Time
	pendingOutcome hwsock.Status
}

// Chip is a behavioral offload-chip double wired to a PLC. Connect
// outcomes depend on link state, ARP staleness, and device availability,
// so recovery logic can be driven through realistic failure sequences.
type Chip struct {
	mu sync.Mutex

	plc     *PLC
	plcAddr netip.Addr
	plcPort uint16

	link      hwsock.LinkState
	stale     map[netip.Addr]bool
	plcOnline bool

	socks [SocketCount]chipSocket

	connectDelay time.Duration
	chunkSize    int
	shortSend    int
	sendErr      error
	recvErr      error
	openStatus   *hwsock.Status

	arpRefreshes int
}

var _ hwsock.Transport = (*Chip)(nil)

// NewChip wires a chip double to plc, reachable at addr:port with a
// healthy 100M full-duplex link.
func NewChip(plc *PLC, addr netip.Addr, port uint16) *Chip {
	return &Chip{
		plc:       plc,
		plcAddr:   addr,
		plcPort:   port,
		link:      hwsock.LinkState{Up: true, Speed100M: true, FullDuplex: true},
		stale:     make(map[netip.Addr]bool),
		plcOnline: true,
	}
}

func (c *Chip) Open(proto hwsock.Protocol, localPort uint16) (hwsock.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.socks {
		s := &c.socks[i]
		if s.inUse {
			continue
		}
		s.inUse = true
		s.proto = proto
		s.rx = nil
		s.pending = false
		if c.openStatus != nil {
			s.status = *c.openStatus
			c.openStatus = nil
		} else if proto == hwsock.ProtocolUDP {
			s.status = hwsock.StatusUDP
		} else {
			s.status = hwsock.StatusInit
		}
		return hwsock.Handle(i), nil
	}
	return 0, errNoFreeSocket
}

func (c *Chip) Connect(h hwsock.Handle, ip netip.Addr, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.socketLocked(h)
	if err != nil {
		return err
	}

	outcome := hwsock.StatusEstablished
	switch {
	case !c.link.Up:
		outcome = hwsock.StatusClosed
	case c.stale[ip]:
		outcome = hwsock.StatusClosed
	case !c.plcOnline:
		outcome = hwsock.StatusClosed
	case ip != c.plcAddr || port != c.plcPort:
		outcome = hwsock.StatusClosed
	}
	if s.proto == hwsock.ProtocolUDP && outcome == hwsock.StatusEstablished {
		outcome = hwsock.StatusUDP
	}

	s.pending = true
	s.pendingAt = time.Now().Add(c.connectDelay)
	s.pendingOutcome = outcome
	return nil
}

func (c *Chip) Send(h hwsock.Handle, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.socketLocked(h)
	if err != nil {
		return 0, err
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.sendErr = nil
		return 0, err
	}
	c.resolvePending(s)
	if s.proto == hwsock.ProtocolTCP && s.status != hwsock.StatusEstablished {
		return 0, fmt.Errorf("hwsocktest: send on socket in state %s", s.status)
	}

	if c.shortSend > 0 && c.shortSend < len(p) {
		n := c.shortSend
		c.shortSend = 0
		return n, nil
	}

	if c.link.Up && c.plcOnline {
		for _, frame := range c.plc.HandleADU(p) {
			s.rx = append(s.rx, frame...)
		}
	}
	return len(p), nil
}

func (c *Chip) Receive(h hwsock.Handle, maxLen int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.socketLocked(h)
	if err != nil {
		return nil, err
	}
	if c.recvErr != nil {
		err := c.recvErr
		c.recvErr = nil
		return nil, err
	}
	if len(s.rx) == 0 || maxLen <= 0 {
		return nil, nil
	}

	n := len(s.rx)
	if n > maxLen {
		n = maxLen
	}
	if c.chunkSize > 0 && n > c.chunkSize {
		n = c.chunkSize
	}
	out := make([]byte, n)
	copy(out, s.rx)
	s.rx = s.rx[n:]
	return out, nil
}

func (c *Chip) Status(h hwsock.Handle) (hwsock.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(h) >= SocketCount {
		return hwsock.StatusClosed, errInvalidHandle
	}
	s := &c.socks[h]
	if !s.inUse {
		return hwsock.StatusClosed, nil
	}
	c.resolvePending(s)
	return s.status, nil
}

func (c *Chip) Close(h hwsock.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(h) >= SocketCount {
		return errInvalidHandle
	}
	s := &c.socks[h]
	s.inUse = false
	s.status = hwsock.StatusClosed
	s.rx = nil
	s.pending = false
	return nil
}

func (c *Chip) LinkState() (hwsock.LinkState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link, nil
}

func (c *Chip) ForceARPRefresh(ip netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arpRefreshes++
	delete(c.stale, ip)
	return nil
}

// resolvePending applies a connect outcome once its settle time passed.
// Callers hold c.mu.
func (c *Chip) resolvePending(s *chipSocket) {
	if s.pending && !time.Now().Before(s.pendingAt) {
		s.status = s.pendingOutcome
		s.pending = false
	}
}

func (c *Chip) socketLocked(h hwsock.Handle) (*chipSocket, error) {
	if int(h) >= SocketCount {
		return nil, errInvalidHandle
	}
	s := &c.socks[h]
	if !s.inUse {
		return nil, errSocketClosed
	}
	return s, nil
}

// SetLink raises or drops the PHY link. Dropping it closes every socket
// and discards buffered frames.
func (c *Chip) SetLink(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = hwsock.LinkState{Up: up, Speed100M: up, FullDuplex: up}
	if !up {
		for i := range c.socks {
			if c.socks[i].inUse {
				c.socks[i].status = hwsock.StatusClosed
				c.socks[i].rx = nil
				c.socks[i].pending = false
			}
		}
	}
}

// SetStaleARP marks the cached hardware address for ip as wrong, so
// connects to it fail until ForceARPRefresh clears the entry.
func (c *Chip) SetStaleARP(ip netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[ip] = true
}

// SetPLCOnline toggles the device behind the chip. While offline, connects
// fail and sent frames go unanswered.
func (c *Chip) SetPLCOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plcOnline = online
}

// SetConnectDelay makes connect outcomes settle after d instead of on the
// first status poll.
func (c *Chip) SetConnectDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectDelay = d
}

// SetChunkSize caps how many bytes a single Receive returns, forcing
// callers to reassemble frames across polls.
func (c *Chip) SetChunkSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunkSize = n
}

// FailNextSendShort makes the next Send accept only n bytes.
func (c *Chip) FailNextSendShort(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shortSend = n
}

// InjectSendError makes the next Send fail with err.
func (c *Chip) InjectSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// InjectReceiveError makes the next Receive fail with err.
func (c *Chip) InjectReceiveError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvErr = err
}

// ForceNextOpenStatus overrides the status the next opened socket reports.
func (c *Chip) ForceNextOpenStatus(status hwsock.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openStatus = &status
}

// ARPRefreshCount reports how many ForceARPRefresh calls the chip has seen.
func (c *Chip) ARPRefreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arpRefreshes
}

// OpenSocketCount reports how many sockets are currently claimed.
func (c *Chip) OpenSocketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.socks {
		if c.socks[i].inUse {
			n++
		}
	}
	return n
}
