// Package hwsocktest provides in-memory doubles for the hwsock transport:
// a scripted mock for unit tests and a behavioral chip plus PLC pair for
// exercising connection recovery without hardware.
package hwsocktest

import (
	"net/netip"
	"sync"

	"github.com/nexus-edge/plc-link/internal/hwsock"
)

// MockTransport is a scripted hwsock.Transport. Behavior comes from the
// function overrides; unset functions fall back to permissive defaults.
type MockTransport struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	OpenFunc            func(proto hwsock.Protocol, localPort uint16) (hwsock.Handle, error)
	ConnectFunc         func(h hwsock.Handle, ip netip.Addr, port uint16) error
	SendFunc            func(h hwsock.Handle, p []byte) (int, error)
	ReceiveFunc         func(h hwsock.Handle, maxLen int) ([]byte, error)
	StatusFunc          func(h hwsock.Handle) (hwsock.Status, error)
	CloseFunc           func(h hwsock.Handle) error
	LinkStateFunc       func() (hwsock.LinkState, error)
	ForceARPRefreshFunc func(ip netip.Addr) error

	// Call tracking
	OpenCalls            int
	ConnectCalls         int
	SendCalls            int
	ReceiveCalls         int
	StatusCalls          int
	CloseCalls           int
	LinkStateCalls       int
	ForceARPRefreshCalls int
}

// NewMockTransport creates a mock whose defaults behave like an idle,
// healthy chip with one established socket.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Open(proto hwsock.Protocol, localPort uint16) (hwsock.Handle, error) {
	m.mu.Lock()
	m.OpenCalls++
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(proto, localPort)
	}
	return 0, nil
}

func (m *MockTransport) Connect(h hwsock.Handle, ip netip.Addr, port uint16) error {
	m.mu.Lock()
	m.ConnectCalls++
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(h, ip, port)
	}
	return nil
}

func (m *MockTransport) Send(h hwsock.Handle, p []byte) (int, error) {
	m.mu.Lock()
	m.SendCalls++
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(h, p)
	}
	return len(p), nil
}

func (m *MockTransport) Receive(h hwsock.Handle, maxLen int) ([]byte, error) {
	m.mu.Lock()
	m.ReceiveCalls++
	m.mu.Unlock()

	if m.ReceiveFunc != nil {
		return m.ReceiveFunc(h, maxLen)
	}
	return nil, nil
}

func (m *MockTransport) Status(h hwsock.Handle) (hwsock.Status, error) {
	m.mu.Lock()
	m.StatusCalls++
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(h)
	}
	return hwsock.StatusEstablished, nil
}

func (m *MockTransport) Close(h hwsock.Handle) error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc(h)
	}
	return nil
}

func (m *MockTransport) LinkState() (hwsock.LinkState, error) {
	m.mu.Lock()
	m.LinkStateCalls++
	m.mu.Unlock()

	if m.LinkStateFunc != nil {
		return m.LinkStateFunc()
	}
	return hwsock.LinkState{Up: true, Speed100M: true, FullDuplex: true}, nil
}

func (m *MockTransport) ForceARPRefresh(ip netip.Addr) error {
	m.mu.Lock()
	m.ForceARPRefreshCalls++
	m.mu.Unlock()

	if m.ForceARPRefreshFunc != nil {
		return m.ForceARPRefreshFunc(ip)
	}
	return nil
}

// Reset clears all call counts.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = 0
	m.ConnectCalls = 0
	m.SendCalls = 0
	m.ReceiveCalls = 0
	m.StatusCalls = 0
	m.CloseCalls = 0
	m.LinkStateCalls = 0
	m.ForceARPRefreshCalls = 0
}
