//go:build integration
// +build integration

// Package plc_test exercises the bridge's Modbus client against a real
// PLC or simulator over the host network stack.
//
// Point TEST_PLC_HOST / TEST_PLC_PORT at the target (defaults
// 127.0.0.1:5020); tests skip when nothing answers there. Writes land on
// the scratch register configured via TEST_PLC_SCRATCH_ADDR.
package plc_test

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	_ "github.com/nexus-edge/plc-link/internal/hwsock/netsock"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

type testConfig struct {
	Host        string
	Port        uint16
	UnitID      byte
	ScratchAddr uint16
}

func loadTestConfig() testConfig {
	cfg := testConfig{
		Host:        "127.0.0.1",
		Port:        5020,
		UnitID:      1,
		ScratchAddr: 100,
	}
	if host := os.Getenv("TEST_PLC_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("TEST_PLC_PORT"); port != "" {
		if v, err := strconv.ParseUint(port, 10, 16); err == nil {
			cfg.Port = uint16(v)
		}
	}
	if unit := os.Getenv("TEST_PLC_UNIT_ID"); unit != "" {
		if v, err := strconv.ParseUint(unit, 10, 8); err == nil {
			cfg.UnitID = byte(v)
		}
	}
	if addr := os.Getenv("TEST_PLC_SCRATCH_ADDR"); addr != "" {
		if v, err := strconv.ParseUint(addr, 10, 16); err == nil {
			cfg.ScratchAddr = uint16(v)
		}
	}
	return cfg
}

func (c testConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// resolveIP turns the configured host into an address the client accepts.
func (c testConfig) resolveIP(t *testing.T) netip.Addr {
	t.Helper()
	if addr, err := netip.ParseAddr(c.Host); err == nil {
		return addr
	}
	ips, err := net.LookupHost(c.Host)
	if err != nil || len(ips) == 0 {
		t.Fatalf("cannot resolve TEST_PLC_HOST %q: %v", c.Host, err)
	}
	addr, err := netip.ParseAddr(ips[0])
	if err != nil {
		t.Fatalf("cannot parse resolved address %q: %v", ips[0], err)
	}
	return addr
}

// skipIfNoPLC probes the target and skips when nothing is listening.
func skipIfNoPLC(t *testing.T, cfg testConfig) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", cfg.addr(), 2*time.Second)
	if err != nil {
		t.Skipf("no PLC or simulator at %s: %v", cfg.addr(), err)
	}
	_ = conn.Close()
}

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	timeout := 30 * time.Second
	if testing.Short() {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// newTestClient builds a connected client over the host network driver.
func newTestClient(t *testing.T, cfg testConfig) *modbus.Client {
	t.Helper()

	transport, err := hwsock.NewTransport("net", hwsock.NetworkConfig{})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	clientCfg := modbus.DefaultConfig(cfg.resolveIP(t))
	clientCfg.TargetPort = cfg.Port
	clientCfg.UnitID = cfg.UnitID
	clientCfg.ResponseTimeout = 5 * time.Second
	clientCfg.RetryCount = 3

	client, err := modbus.New(transport, clientCfg, zerolog.Nop(), metrics.NewRegistry(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// scratchValue derives a per-run value so consecutive runs do not pass on
// stale register contents.
func scratchValue() uint16 {
	return uint16(time.Now().UnixNano()&0x7FFF) | 0x0001
}

func dumpSession(t *testing.T, client *modbus.Client) {
	t.Helper()
	t.Logf("session: %s", fmt.Sprintf("%+v", client.Session()))
}
