package netsock_test

import (
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/nexus-edge/plc-link/internal/hwsock"
	"github.com/nexus-edge/plc-link/internal/hwsock/netsock"
)

func startListener(t *testing.T) (net.Listener, netip.Addr, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return ln, netip.MustParseAddr("127.0.0.1"), uint16(port)
}

func waitStatus(t *testing.T, tr hwsock.Transport, h hwsock.Handle, want hwsock.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := tr.Status(h)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, _ := tr.Status(h)
	t.Fatalf("socket status = %s, want %s", status, want)
}

func TestOpenLifecycle(t *testing.T) {
	tr := netsock.New(hwsock.NetworkConfig{})

	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	status, err := tr.Status(h)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != hwsock.StatusInit {
		t.Errorf("status after open = %s, want init", status)
	}

	if err := tr.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	status, err = tr.Status(h)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != hwsock.StatusClosed {
		t.Errorf("status after close = %s, want closed", status)
	}

	// Closing again is a no-op.
	if err := tr.Close(h); err != nil {
		t.Errorf("Close() on closed socket error = %v", err)
	}
}

func TestSocketBankExhaustion(t *testing.T) {
	tr := netsock.New(hwsock.NetworkConfig{})

	handles := make([]hwsock.Handle, 0, netsock.SocketCount)
	for i := 0; i < netsock.SocketCount; i++ {
		h, err := tr.Open(hwsock.ProtocolTCP, 0)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		handles = append(handles, h)
	}

	if _, err := tr.Open(hwsock.ProtocolTCP, 0); err == nil {
		t.Error("Open() on full bank succeeded, want error")
	}

	if err := tr.Close(handles[3]); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() after freeing slot error = %v", err)
	}
	if h != handles[3] {
		t.Errorf("Open() reused handle %d, want %d", h, handles[3])
	}
}

func TestConnectSendReceive(t *testing.T) {
	ln, ip, port := startListener(t)

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()

	tr := netsock.New(hwsock.NetworkConfig{})
	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close(h)

	if err := tr.Connect(h, ip, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitStatus(t, tr, h, hwsock.StatusEstablished)

	payload := []byte("hello plc")
	n, err := tr.Send(h, payload)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n != len(payload) {
		t.Errorf("Send() = %d bytes, want %d", n, len(payload))
	}

	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(payload) && time.Now().Before(deadline) {
		chunk, err := tr.Receive(h, 64)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != string(payload) {
		t.Errorf("Receive() = %q, want %q", got, payload)
	}
	<-echoDone
}

func TestConnectRefused(t *testing.T) {
	// Grab a port and release it so nothing is listening there.
	ln, ip, port := startListener(t)
	ln.Close()

	tr := netsock.New(hwsock.NetworkConfig{})
	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close(h)

	if err := tr.Connect(h, ip, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitStatus(t, tr, h, hwsock.StatusClosed)
}

func TestReceiveEmptyReturnsNil(t *testing.T) {
	ln, ip, port := startListener(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Hold the connection open without sending anything.
		time.Sleep(2 * time.Second)
		conn.Close()
	}()

	tr := netsock.New(hwsock.NetworkConfig{})
	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close(h)

	if err := tr.Connect(h, ip, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitStatus(t, tr, h, hwsock.StatusEstablished)

	data, err := tr.Receive(h, 64)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if data != nil {
		t.Errorf("Receive() = %v, want nil", data)
	}
}

func TestPeerCloseMovesToCloseWait(t *testing.T) {
	ln, ip, port := startListener(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	tr := netsock.New(hwsock.NetworkConfig{})
	h, err := tr.Open(hwsock.ProtocolTCP, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close(h)

	if err := tr.Connect(h, ip, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitStatus(t, tr, h, hwsock.StatusEstablished)

	// Drain until the FIN is observed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := tr.Receive(h, 64); err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		status, err := tr.Status(h)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status == hwsock.StatusCloseWait {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("socket never reached close_wait after peer close")
}
