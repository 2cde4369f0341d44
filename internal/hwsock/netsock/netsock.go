// Package netsock implements the hwsock transport on the host network
// stack. It maps chip socket commands onto net.Conn operations so the
// bridge runs unmodified on plain Linux, with the kernel standing in for
// the offload chip's TCP engine.
package netsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/hwsock"
)

// SocketCount mirrors the socket bank of the chip this driver stands in for.
const SocketCount = 8

// dialTimeout bounds the async connect. Callers polling Status apply their
// own shorter deadline and close the socket first.
const dialTimeout = 20 * time.Second

// receivePollWait is how long a Receive call waits for buffered bytes. A
// short positive deadline stands in for the chip's received-size register.
const receivePollWait = time.Millisecond

var (
	errInvalidHandle = errors.New("netsock: invalid socket handle")
	errSocketClosed  = errors.New("netsock: socket not open")
	errNoFreeSocket  = errors.New("netsock: no free socket")
	errNotConnected  = errors.New("netsock: socket not connected")
)

func init() {
	hwsock.RegisterDriver("net", func(cfg hwsock.NetworkConfig) (hwsock.Transport, error) {
		return New(cfg), nil
	})
}

type socket struct {
	inUse     bool
	gen       uint64
	proto     hwsock.Protocol
	localPort uint16
	status    hwsock.Status
	conn      net.Conn
	cancel    context.CancelFunc
}

// Transport drives a fixed bank of sockets over the OS network stack.
type Transport struct {
	cfg hwsock.NetworkConfig

	mu    sync.Mutex
	socks [SocketCount]socket
}

var _ hwsock.Transport = (*Transport)(nil)

// New returns a transport bound to the host stack. cfg.LocalIP, when set,
// selects the source address for outgoing connections; MAC, mask and
// gateway are owned by the OS and ignored.
func New(cfg hwsock.NetworkConfig) *Transport {
	return &Transport{cfg: cfg}
}

// Open claims the lowest free socket slot.
func (t *Transport) Open(proto hwsock.Protocol, localPort uint16) (hwsock.Handle, error) {
	if proto != hwsock.ProtocolTCP && proto != hwsock.ProtocolUDP {
		return 0, fmt.Errorf("netsock: unsupported protocol %s", proto)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.socks {
		s := &t.socks[i]
		if s.inUse {
			continue
		}
		s.inUse = true
		s.gen++
		s.proto = proto
		s.localPort = localPort
		s.conn = nil
		s.cancel = nil
		if proto == hwsock.ProtocolUDP {
			s.status = hwsock.StatusUDP
		} else {
			s.status = hwsock.StatusInit
		}
		return hwsock.Handle(i), nil
	}
	return 0, errNoFreeSocket
}

// Connect starts the connection attempt and returns immediately. The
// outcome lands in the socket status: established on success, closed on
// failure, observed through Status polls.
func (t *Transport) Connect(h hwsock.Handle, ip netip.Addr, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.socketLocked(h)
	if err != nil {
		return err
	}

	remote := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))

	if s.proto == hwsock.ProtocolUDP {
		// Connected-mode UDP resolves synchronously; there is no handshake.
		conn, err := net.Dial("udp", remote)
		if err != nil {
			s.status = hwsock.StatusClosed
			return err
		}
		s.conn = conn
		return nil
	}

	if s.status != hwsock.StatusInit {
		return fmt.Errorf("netsock: connect on socket in state %s", s.status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	s.cancel = cancel
	gen := s.gen

	dialer := net.Dialer{}
	if t.cfg.LocalIP.IsValid() || s.localPort != 0 {
		laddr := &net.TCPAddr{Port: int(s.localPort)}
		if t.cfg.LocalIP.IsValid() {
			laddr.IP = t.cfg.LocalIP.AsSlice()
		}
		dialer.LocalAddr = laddr
	}

	go func() {
		conn, dialErr := dialer.DialContext(ctx, "tcp", remote)
		cancel()

		t.mu.Lock()
		defer t.mu.Unlock()

		cur := &t.socks[h]
		if !cur.inUse || cur.gen != gen {
			// Socket was closed or recycled while the dial was in flight.
			if conn != nil {
				conn.Close()
			}
			return
		}
		if dialErr != nil {
			cur.status = hwsock.StatusClosed
			return
		}
		cur.conn = conn
		cur.status = hwsock.StatusEstablished
	}()

	return nil
}

// Send writes p to the connection.
func (t *Transport) Send(h hwsock.Handle, p []byte) (int, error) {
	t.mu.Lock()
	s, err := t.socketLocked(h)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	conn := s.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, errNotConnected
	}
	n, err := conn.Write(p)
	if err != nil {
		t.markBroken(h)
	}
	return n, err
}

// Receive returns up to maxLen buffered bytes, or nil when nothing has
// arrived. A peer close parks the socket in close_wait, matching what the
// chip reports after receiving a FIN.
func (t *Transport) Receive(h hwsock.Handle, maxLen int) ([]byte, error) {
	t.mu.Lock()
	s, err := t.socketLocked(h)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	conn := s.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, errNotConnected
	}
	if maxLen <= 0 {
		return nil, nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(receivePollWait)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxLen)
	n, err := conn.Read(buf)
	if n > 0 {
		if errors.Is(err, io.EOF) {
			t.setStatus(h, hwsock.StatusCloseWait)
		}
		return buf[:n], nil
	}

	var netErr net.Error
	switch {
	case err == nil:
		return nil, nil
	case errors.As(err, &netErr) && netErr.Timeout():
		return nil, nil
	case errors.Is(err, io.EOF):
		t.setStatus(h, hwsock.StatusCloseWait)
		return nil, nil
	default:
		t.markBroken(h)
		return nil, err
	}
}

// Status reads the socket state.
func (t *Transport) Status(h hwsock.Handle) (hwsock.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h) >= SocketCount {
		return hwsock.StatusClosed, errInvalidHandle
	}
	s := &t.socks[h]
	if !s.inUse {
		return hwsock.StatusClosed, nil
	}
	return s.status, nil
}

// Close releases the slot. Closing a closed handle is a no-op.
func (t *Transport) Close(h hwsock.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h) >= SocketCount {
		return errInvalidHandle
	}
	s := &t.socks[h]
	if !s.inUse {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.inUse = false
	s.gen++
	s.status = hwsock.StatusClosed
	return err
}

// LinkState reports whether any non-loopback interface is up and running.
// Speed and duplex come from sysfs where available and default to the
// 100M full-duplex profile otherwise.
func (t *Transport) LinkState() (hwsock.LinkState, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return hwsock.LinkState{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		const upAndRunning = net.FlagUp | net.FlagRunning
		if iface.Flags&upAndRunning != upAndRunning {
			continue
		}
		speed100, fullDuplex := phyParams(iface.Name)
		return hwsock.LinkState{Up: true, Speed100M: speed100, FullDuplex: fullDuplex}, nil
	}
	return hwsock.LinkState{}, nil
}

// ForceARPRefresh is a no-op: the OS owns the neighbor cache and expires
// entries on its own.
func (t *Transport) ForceARPRefresh(netip.Addr) error {
	return nil
}

func (t *Transport) socketLocked(h hwsock.Handle) (*socket, error) {
	if int(h) >= SocketCount {
		return nil, errInvalidHandle
	}
	s := &t.socks[h]
	if !s.inUse {
		return nil, errSocketClosed
	}
	return s, nil
}

func (t *Transport) setStatus(h hwsock.Handle, status hwsock.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) < SocketCount && t.socks[h].inUse {
		t.socks[h].status = status
	}
}

// markBroken records a hard I/O failure as a closed socket.
func (t *Transport) markBroken(h hwsock.Handle) {
	t.setStatus(h, hwsock.StatusClosed)
}

func phyParams(iface string) (speed100, fullDuplex bool) {
	speed100, fullDuplex = true, true
	if data, err := os.ReadFile("/sys/class/net/" + iface + "/speed"); err == nil {
		if mbit, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && mbit > 0 {
			speed100 = mbit >= 100
		}
	}
	if data, err := os.ReadFile("/sys/class/net/" + iface + "/duplex"); err == nil {
		fullDuplex = strings.TrimSpace(string(data)) == "full"
	}
	return speed100, fullDuplex
}
