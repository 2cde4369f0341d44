package modbus

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

const (
	// connectPollInterval paces status polls while a connect is in flight.
	connectPollInterval = 100 * time.Millisecond
	// receivePollInterval paces receive polls while awaiting a response.
	receivePollInterval = time.Millisecond
)

// connManager owns the session with the PLC: one hardware socket, its
// state machine, and the recovery protocol. Any ambiguous fault, an I/O
// error, a timeout, a wrong status register, collapses into the degraded
// state; recovery is always a full teardown, ARP refresh and rebuild.
// Offload chips recover less reliably from partial repair than from a
// clean reconnect after a physical-layer event.
//
// Methods are not safe for concurrent use; the client serializes access.
// State is the exception and may be read from any goroutine.
type connManager struct {
	transport hwsock.Transport
	arp       *arpResolver
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Registry

	state atomic.Int32

	handle              hwsock.Handle
	open                bool
	lastActivity        time.Time
	consecutiveFailures int
	reconnects          uint64
}

func newConnManager(transport hwsock.Transport, arp *arpResolver, cfg Config, logger zerolog.Logger, m *metrics.Registry) *connManager {
	cm := &connManager{
		transport: transport,
		arp:       arp,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
	cm.state.Store(int32(domain.StateDisconnected))
	return cm
}

// State reads the connection state without touching the session lock.
func (c *connManager) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

func (c *connManager) setState(s domain.ConnState) {
	prev := domain.ConnState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Info().
		Str("from", prev.String()).
		Str("to", s.String()).
		Msg("connection state changed")
	c.metrics.SetConnectionState(s.String())
}

// Connect establishes the session. A no-op when already connected.
func (c *connManager) Connect(ctx context.Context) error {
	if c.State() == domain.StateConnected {
		return nil
	}
	c.setState(domain.StateConnecting)
	c.teardown()

	start := time.Now()
	if err := c.establish(ctx); err != nil {
		c.setState(domain.StateDisconnected)
		c.metrics.RecordConnectAttempt(false, time.Since(start))
		return err
	}
	c.consecutiveFailures = 0
	c.setState(domain.StateConnected)
	c.metrics.RecordConnectAttempt(true, time.Since(start))
	return nil
}

// establish runs one connection attempt: link check, optional forced ARP
// resolution, socket open, connect command, then status polls until the
// chip reports an established session. The socket is closed again on every
// failure path; only success leaves it owned by the manager.
func (c *connManager) establish(ctx context.Context) error {
	link, err := c.transport.LinkState()
	if err != nil {
		return fmt.Errorf("%w: link state: %v", domain.ErrConnectFailed, err)
	}
	if !link.Up {
		return fmt.Errorf("%w: %w", domain.ErrConnectFailed, domain.ErrNoLink)
	}
	if !link.Speed100M || !link.FullDuplex {
		c.logger.Warn().
			Bool("speed_100m", link.Speed100M).
			Bool("full_duplex", link.FullDuplex).
			Msg("link up but below expected profile")
	}

	if c.arp.ForceMode() {
		if err := c.arp.Refresh(); err != nil {
			c.logger.Warn().Err(err).Msg("forced ARP refresh failed")
		} else {
			c.metrics.RecordARPRefresh()
		}
	}

	h, err := c.transport.Open(hwsock.ProtocolTCP, c.cfg.LocalPort)
	if err != nil {
		return fmt.Errorf("%w: open socket: %v", domain.ErrConnectFailed, err)
	}
	st, err := c.transport.Status(h)
	if err != nil {
		c.transport.Close(h)
		return fmt.Errorf("%w: socket status: %v", domain.ErrConnectFailed, err)
	}
	if st != hwsock.StatusInit {
		c.transport.Close(h)
		return fmt.Errorf("%w: socket opened in state %s", domain.ErrConnectFailed, st)
	}

	if err := c.transport.Connect(h, c.cfg.TargetIP, c.cfg.TargetPort); err != nil {
		c.transport.Close(h)
		return fmt.Errorf("%w: connect command: %v", domain.ErrConnectFailed, err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	for {
		st, err := c.transport.Status(h)
		if err != nil {
			c.transport.Close(h)
			return fmt.Errorf("%w: socket status: %v", domain.ErrConnectFailed, err)
		}
		switch st {
		case hwsock.StatusEstablished:
			c.handle = h
			c.open = true
			c.lastActivity = time.Now()
			c.logger.Info().
				Str("plc", c.remoteAddr()).
				Uint8("socket", uint8(h)).
				Msg("session established")
			return nil
		case hwsock.StatusClosed, hwsock.StatusCloseWait:
			c.transport.Close(h)
			return fmt.Errorf("%w: connection refused (socket %s)", domain.ErrConnectFailed, st)
		}
		if time.Now().After(deadline) {
			c.transport.Close(h)
			return fmt.Errorf("%w: no established status within %v", domain.ErrConnectTimeout, c.cfg.ConnectTimeout)
		}
		if err := sleepCtx(ctx, connectPollInterval); err != nil {
			c.transport.Close(h)
			return err
		}
	}
}

// Exchange sends one framed request and blocks until its response arrives,
// the response timeout passes, or the session faults. Frames carrying a
// foreign transaction id are leftovers of abandoned requests; they are
// discarded and the wait continues.
func (c *connManager) Exchange(ctx context.Context, adu []byte, txn uint16) (*frame, error) {
	if c.State() != domain.StateConnected || !c.open {
		return nil, domain.ErrNotConnected
	}

	n, err := c.transport.Send(c.handle, adu)
	if err != nil {
		c.degrade("send_error", err)
		return nil, fmt.Errorf("%w: send: %v", domain.ErrCommunicationLost, err)
	}
	if n != len(adu) {
		err := fmt.Errorf("%w: short send, %d of %d bytes accepted", domain.ErrFraming, n, len(adu))
		c.degrade("short_send", err)
		return nil, err
	}

	var buf []byte
	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	for {
		chunk, err := c.transport.Receive(c.handle, maxADULen)
		if err != nil {
			c.degrade("receive_error", err)
			return nil, fmt.Errorf("%w: receive: %v", domain.ErrCommunicationLost, err)
		}
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			for {
				f, consumed, err := parseADU(buf)
				if err != nil {
					c.degrade("framing", err)
					return nil, err
				}
				if f == nil {
					break
				}
				buf = buf[consumed:]
				if f.txn != txn {
					c.metrics.RecordStaleFrame()
					c.logger.Warn().
						Uint16("got", f.txn).
						Uint16("want", txn).
						Msg("discarding stale transaction")
					continue
				}
				if f.unit != c.cfg.UnitID {
					err := fmt.Errorf("%w: unit id %d in response, want %d", domain.ErrFraming, f.unit, c.cfg.UnitID)
					c.degrade("framing", err)
					return nil, err
				}
				c.lastActivity = time.Now()
				return f, nil
			}
			continue
		}

		st, err := c.transport.Status(c.handle)
		if err != nil {
			c.degrade("socket_status", err)
			return nil, fmt.Errorf("%w: socket status: %v", domain.ErrCommunicationLost, err)
		}
		if st != hwsock.StatusEstablished {
			err := fmt.Errorf("%w: socket status %s while awaiting response", domain.ErrCommunicationLost, st)
			c.degrade("socket_status", err)
			return nil, err
		}
		if time.Now().After(deadline) {
			err := fmt.Errorf("%w: no response within %v", domain.ErrCommunicationLost, c.cfg.ResponseTimeout)
			c.degrade("response_timeout", err)
			return nil, err
		}
		if err := sleepCtx(ctx, receivePollInterval); err != nil {
			c.degrade("canceled", err)
			return nil, err
		}
	}
}

// degrade marks the session compromised. The dead socket is deliberately
// kept until the reconnect teardown so diagnostics can still read its
// status register.
func (c *connManager) degrade(reason string, err error) {
	c.consecutiveFailures++
	c.metrics.RecordDegrade(reason)
	c.logger.Warn().
		Err(err).
		Str("reason", reason).
		Int("consecutive_failures", c.consecutiveFailures).
		Msg("session degraded")
	c.setState(domain.StateDegraded)
}

// Reconnect runs the recovery protocol: tear the session down, then per
// attempt force ARP re-resolution for the PLC and rebuild from scratch, up
// to the configured budget. A chip that missed a link event can hold both
// a wedged socket and a stale ARP entry; only the full rebuild clears both.
func (c *connManager) Reconnect(ctx context.Context) error {
	c.setState(domain.StateReconnecting)
	c.teardown()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			c.setState(domain.StateDisconnected)
			return err
		}

		if err := c.arp.Refresh(); err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("ARP refresh failed")
		} else {
			c.metrics.RecordARPRefresh()
		}

		if err := c.establish(ctx); err != nil {
			lastErr = err
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("budget", c.cfg.RetryCount).
				Msg("reconnect attempt failed")
			if attempt < c.cfg.RetryCount {
				if err := sleepCtx(ctx, c.cfg.RetryInterval); err != nil {
					c.setState(domain.StateDisconnected)
					return err
				}
			}
			continue
		}

		c.consecutiveFailures = 0
		c.reconnects++
		c.setState(domain.StateConnected)
		c.metrics.RecordReconnect(attempt, true)
		c.logger.Info().Int("attempt", attempt).Msg("session recovered")
		return nil
	}

	c.setState(domain.StateDisconnected)
	c.metrics.RecordReconnect(c.cfg.RetryCount, false)
	return fmt.Errorf("%w: %d attempts at %v spacing, last error: %v",
		domain.ErrReconnectExhausted, c.cfg.RetryCount, c.cfg.RetryInterval, lastErr)
}

// Disconnect tears the session down. Valid from any state, idempotent.
func (c *connManager) Disconnect() {
	c.teardown()
	c.setState(domain.StateDisconnected)
}

func (c *connManager) teardown() {
	if !c.open {
		return
	}
	if err := c.transport.Close(c.handle); err != nil {
		c.logger.Warn().Err(err).Msg("socket close failed")
	}
	c.open = false
}

// SocketStatus reads the raw status register of the session socket.
func (c *connManager) SocketStatus() (hwsock.Status, error) {
	if !c.open {
		return hwsock.StatusClosed, nil
	}
	return c.transport.Status(c.handle)
}

func (c *connManager) remoteAddr() string {
	return netip.AddrPortFrom(c.cfg.TargetIP, c.cfg.TargetPort).String()
}

// SessionInfo is a diagnostics snapshot of the session.
type SessionInfo struct {
	State               domain.ConnState `json:"state"`
	SocketOpen          bool             `json:"socket_open"`
	LocalPort           uint16           `json:"local_port"`
	RemoteAddr          string           `json:"remote_addr"`
	LastActivity        time.Time        `json:"last_activity,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Reconnects          uint64           `json:"reconnects"`
}

func (c *connManager) SessionInfo() SessionInfo {
	return SessionInfo{
		State:               c.State(),
		SocketOpen:          c.open,
		LocalPort:           c.cfg.LocalPort,
		RemoteAddr:          c.remoteAddr(),
		LastActivity:        c.lastActivity,
		ConsecutiveFailures: c.consecutiveFailures,
		Reconnects:          c.reconnects,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
