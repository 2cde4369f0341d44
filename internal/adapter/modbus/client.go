package modbus

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

// Industrial-profile defaults. The retry budget of ten attempts at 500ms
// spacing mirrors the retransmission profile the offload chips ship with.
const (
	DefaultTargetPort      = 502
	DefaultUnitID          = 1
	DefaultResponseTimeout = 500 * time.Millisecond
	DefaultConnectTimeout  = 10 * time.Second
	DefaultRetryCount      = 10
	DefaultRetryInterval   = 500 * time.Millisecond
)

// Config holds the runtime settings of one PLC session.
type Config struct {
	TargetIP   netip.Addr
	TargetPort uint16
	UnitID     byte

	// LocalPort binds the hardware socket; 0 lets the driver choose.
	LocalPort uint16

	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
	RetryCount      int
	RetryInterval   time.Duration

	// AutoReconnect lets operations transparently run the recovery
	// protocol when the session is degraded or down.
	AutoReconnect bool

	// ForceARP re-resolves the PLC's hardware address before every
	// connection attempt instead of only during recovery.
	ForceARP bool
}

// DefaultConfig returns the industrial defaults for a PLC at target.
func DefaultConfig(target netip.Addr) Config {
	return Config{
		TargetIP:        target,
		TargetPort:      DefaultTargetPort,
		UnitID:          DefaultUnitID,
		ResponseTimeout: DefaultResponseTimeout,
		ConnectTimeout:  DefaultConnectTimeout,
		RetryCount:      DefaultRetryCount,
		RetryInterval:   DefaultRetryInterval,
		AutoReconnect:   true,
	}
}

func (c Config) withDefaults() Config {
	if c.TargetPort == 0 {
		c.TargetPort = DefaultTargetPort
	}
	if c.UnitID == 0 {
		c.UnitID = DefaultUnitID
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Validate checks for configuration errors defaults cannot repair.
func (c Config) Validate() error {
	if !c.TargetIP.IsValid() {
		return fmt.Errorf("%w: target ip required", domain.ErrInvalidConfig)
	}
	return nil
}

// Client is a Modbus TCP client for a single PLC over a hardware-offload
// socket. All operations serialize on an internal mutex: the protocol
// allows one outstanding transaction per session and the chip tolerates
// only one command stream. State is readable without the lock.
//
// Canceling an operation's context mid-exchange abandons the in-flight
// transaction and degrades the session; the next operation rebuilds it.
type Client struct {
	mu sync.Mutex

	transport hwsock.Transport
	conn      *connManager
	arp       *arpResolver
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Registry

	txn    uint16
	closed bool

	requests   atomic.Uint64
	errorCount atomic.Uint64
	exceptions atomic.Uint64
}

// New builds a client over transport. The transport must not be shared
// with any other command stream.
func New(transport hwsock.Transport, cfg Config, logger zerolog.Logger, m *metrics.Registry) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "modbus").Logger()
	arp := newARPResolver(transport, cfg.TargetIP, logger)
	arp.forceMode.Store(cfg.ForceARP)

	return &Client{
		transport: transport,
		conn:      newConnManager(transport, arp, cfg, logger, m),
		arp:       arp,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Connect establishes the PLC session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClientClosed
	}
	return c.conn.Connect(ctx)
}

// Disconnect tears the session down. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.Disconnect()
}

// Close disconnects and retires the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.conn.Disconnect()
	c.closed = true
	return nil
}

// ReadHoldingRegisters reads count holding registers starting at start.
func (c *Client) ReadHoldingRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	return c.readRegisters(ctx, fcReadHolding, "read_holding_registers", start, count)
}

// ReadInputRegisters reads count input registers starting at start.
func (c *Client) ReadInputRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	return c.readRegisters(ctx, fcReadInput, "read_input_registers", start, count)
}

func (c *Client) readRegisters(ctx context.Context, fc byte, op string, start, count uint16) ([]uint16, error) {
	rng := domain.RegisterRange{Start: start, Count: count}
	if err := rng.ValidateRead(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	began := time.Now()

	values, err := c.readLocked(ctx, fc, rng)
	c.finish(op, began, err)
	return values, err
}

func (c *Client) readLocked(ctx context.Context, fc byte, rng domain.RegisterRange) ([]uint16, error) {
	if c.closed {
		return nil, domain.ErrClientClosed
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	txn := c.nextTxn()
	adu := encodeReadRequest(txn, c.cfg.UnitID, fc, rng)
	f, err := c.conn.Exchange(ctx, adu, txn)
	if err != nil {
		return nil, err
	}

	values, err := decodeReadResponse(f.pdu, fc, rng.Count)
	if err != nil {
		c.noteDecodeFault(err)
		return nil, err
	}
	return values, nil
}

// WriteSingleRegister writes value to the holding register at addr.
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	began := time.Now()

	err := c.writeSingleLocked(ctx, addr, value)
	c.finish("write_single_register", began, err)
	return err
}

func (c *Client) writeSingleLocked(ctx context.Context, addr, value uint16) error {
	if c.closed {
		return domain.ErrClientClosed
	}
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	txn := c.nextTxn()
	adu := encodeWriteSingleRequest(txn, c.cfg.UnitID, addr, value)
	f, err := c.conn.Exchange(ctx, adu, txn)
	if err != nil {
		return err
	}

	if err := decodeWriteSingleResponse(f.pdu, addr, value); err != nil {
		c.noteDecodeFault(err)
		return err
	}
	return nil
}

// WriteMultipleRegisters writes values to consecutive holding registers
// starting at start.
func (c *Client) WriteMultipleRegisters(ctx context.Context, start uint16, values []uint16) error {
	if len(values) == 0 || len(values) > domain.MaxWriteRegisters {
		return fmt.Errorf("%w: %d values", domain.ErrInvalidRegisterRange, len(values))
	}
	rng := domain.RegisterRange{Start: start, Count: uint16(len(values))}
	if err := rng.ValidateWrite(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	began := time.Now()

	err := c.writeMultipleLocked(ctx, rng, values)
	c.finish("write_multiple_registers", began, err)
	return err
}

func (c *Client) writeMultipleLocked(ctx context.Context, rng domain.RegisterRange, values []uint16) error {
	if c.closed {
		return domain.ErrClientClosed
	}
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	txn := c.nextTxn()
	adu := encodeWriteMultipleRequest(txn, c.cfg.UnitID, rng.Start, values)
	f, err := c.conn.Exchange(ctx, adu, txn)
	if err != nil {
		return err
	}

	if err := decodeWriteMultipleResponse(f.pdu, rng.Start, rng.Count); err != nil {
		c.noteDecodeFault(err)
		return err
	}
	return nil
}

// ensureSession brings the session to connected per the reconnect policy.
// With auto-reconnect disabled the caller owns recovery.
func (c *Client) ensureSession(ctx context.Context) error {
	switch c.conn.State() {
	case domain.StateConnected:
		return nil
	case domain.StateDegraded:
		if !c.cfg.AutoReconnect {
			return fmt.Errorf("%w: session degraded and auto-reconnect disabled", domain.ErrNotConnected)
		}
		return c.conn.Reconnect(ctx)
	case domain.StateDisconnected:
		if !c.cfg.AutoReconnect {
			return domain.ErrNotConnected
		}
		return c.conn.Connect(ctx)
	default:
		return domain.ErrNotConnected
	}
}

// nextTxn allocates a transaction id. Ids start at 1 and wrap through the
// full 16-bit space; with one transaction in flight at a time a wrapped id
// can never collide with an outstanding request.
func (c *Client) nextTxn() uint16 {
	c.txn++
	return c.txn
}

// noteDecodeFault degrades the session on framing faults. A Modbus
// exception is a valid protocol answer and leaves the session alone.
func (c *Client) noteDecodeFault(err error) {
	if errors.Is(err, domain.ErrFraming) {
		c.conn.degrade("framing", err)
	}
}

func (c *Client) finish(op string, began time.Time, err error) {
	c.requests.Add(1)
	status := "ok"
	switch {
	case err == nil:
	case isException(err):
		c.exceptions.Add(1)
		status = "exception"
	default:
		c.errorCount.Add(1)
		status = "error"
	}
	c.metrics.RecordRequest(op, status, time.Since(began))
}

func isException(err error) bool {
	_, ok := domain.AsModbusException(err)
	return ok
}

// State reads the connection state without blocking behind in-flight
// operations.
func (c *Client) State() domain.ConnState {
	return c.conn.State()
}

// SocketStatus reads the raw hardware status of the session socket.
func (c *Client) SocketStatus() (hwsock.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.SocketStatus()
}

// LinkState reads the PHY link state.
func (c *Client) LinkState() (hwsock.LinkState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.LinkState()
}

// Session returns a diagnostics snapshot of the session.
func (c *Client) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.SessionInfo()
}

// SetForceARP toggles per-attempt ARP re-resolution at runtime.
func (c *Client) SetForceARP(enabled bool) {
	c.arp.SetForceMode(enabled)
}

// ForceARP reports whether force-ARP mode is on.
func (c *Client) ForceARP() bool {
	return c.arp.ForceMode()
}

// ARPStats returns resolver activity counters.
func (c *Client) ARPStats() ARPStats {
	return c.arp.Stats()
}

// ClientStats are cumulative operation counters.
type ClientStats struct {
	Requests   uint64 `json:"requests"`
	Errors     uint64 `json:"errors"`
	Exceptions uint64 `json:"exceptions"`
}

// Stats returns cumulative operation counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests:   c.requests.Load(),
		Errors:     c.errorCount.Load(),
		Exceptions: c.exceptions.Load(),
	}
}

// HealthCheck reports the session as healthy only while connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if state := c.State(); state != domain.StateConnected {
		return fmt.Errorf("plc session %s", state)
	}
	return nil
}
