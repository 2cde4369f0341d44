// Package mqtt publishes point samples to the broker, with automatic
// reconnection and buffering across broker outages.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
	TLSCAFile      string
	BufferSize     int
	PublishTimeout time.Duration
	RetainMessages bool
}

// DefaultConfig returns a Config with the bridge defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "plc-link",
		TopicPrefix:    "plclink",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		BufferSize:     10000,
		PublishTimeout: 5 * time.Second,
	}
}

// bufferedMessage is a payload parked while the broker is unreachable.
type bufferedMessage struct {
	topic   string
	payload []byte
}

// PublisherStats are cumulative publish counters.
type PublisherStats struct {
	Published  uint64 `json:"published"`
	Failed     uint64 `json:"failed"`
	Buffered   uint64 `json:"buffered"`
	BytesSent  uint64 `json:"bytes_sent"`
	Reconnects uint64 `json:"reconnects"`
}

// Publisher delivers samples to the broker. Samples flow through a
// bounded buffer so a broker outage degrades to dropped-oldest instead of
// blocking the poll loop.
type Publisher struct {
	config  Config
	client  pahomqtt.Client
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu        sync.RWMutex
	connected atomic.Bool
	buffer    chan bufferedMessage
	done      chan struct{}
	wg        sync.WaitGroup

	published  atomic.Uint64
	failed     atomic.Uint64
	buffered   atomic.Uint64
	bytesSent  atomic.Uint64
	reconnects atomic.Uint64
}

// NewPublisher creates a publisher. Connect must be called before samples
// reach the broker; publishes before that are buffered.
func NewPublisher(config Config, logger zerolog.Logger, m *metrics.Registry) (*Publisher, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL required", domain.ErrInvalidConfig)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	config.TopicPrefix = strings.Trim(config.TopicPrefix, "/")

	return &Publisher{
		config:  config,
		logger:  logger.With().Str("component", "mqtt").Logger(),
		metrics: m,
		buffer:  make(chan bufferedMessage, config.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Connect establishes the broker session and starts the buffer drainer.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectDelay)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	if p.config.TLSEnabled {
		tlsConfig, err := p.createTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)

	p.mu.Lock()
	p.client = pahomqtt.NewClient(opts)
	client := p.client
	p.mu.Unlock()

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("connecting to MQTT broker")

	token := client.Connect()
	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.config.ConnectTimeout)
	}()

	select {
	case ok := <-connectDone:
		if !ok {
			return fmt.Errorf("%w: connection timeout", domain.ErrMQTTConnectionFailed)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.connected.Store(true)

	p.wg.Add(1)
	go p.drainLoop()

	p.logger.Info().Msg("connected to MQTT broker")
	return nil
}

// Disconnect flushes what it can and drops the broker session.
func (p *Publisher) Disconnect() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
	p.connected.Store(false)
	p.logger.Info().Msg("disconnected from MQTT broker")
}

// Topic joins suffix under the configured prefix.
func (p *Publisher) Topic(suffix string) string {
	suffix = strings.Trim(suffix, "/")
	if p.config.TopicPrefix == "" {
		return suffix
	}
	if suffix == "" {
		return p.config.TopicPrefix
	}
	return p.config.TopicPrefix + "/" + suffix
}

// Publish delivers one sample, buffering it if the broker is away.
func (p *Publisher) Publish(ctx context.Context, sample *domain.Sample) error {
	payload, err := sample.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize sample: %w", err)
	}
	if !p.connected.Load() {
		return p.bufferMessage(sample.Topic, payload)
	}
	return p.publishRaw(ctx, sample.Topic, payload)
}

// PublishBatch delivers a poll cycle's samples, returning the last error.
func (p *Publisher) PublishBatch(ctx context.Context, samples []*domain.Sample) error {
	var lastErr error
	for _, s := range samples {
		if err := p.Publish(ctx, s); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *Publisher) publishRaw(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return domain.ErrMQTTNotConnected
	}

	token := client.Publish(topic, p.config.QoS, p.config.RetainMessages, payload)
	publishDone := make(chan bool, 1)
	go func() {
		publishDone <- token.WaitTimeout(p.config.PublishTimeout)
	}()

	select {
	case ok := <-publishDone:
		if !ok {
			p.notePublish(false, 0)
			return fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		}
		if token.Error() != nil {
			p.notePublish(false, 0)
			return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
		}
	case <-ctx.Done():
		p.notePublish(false, 0)
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, ctx.Err())
	}

	p.notePublish(true, len(payload))
	return nil
}

func (p *Publisher) notePublish(success bool, bytes int) {
	if success {
		p.published.Add(1)
		p.bytesSent.Add(uint64(bytes))
	} else {
		p.failed.Add(1)
	}
	p.metrics.RecordMQTTPublish(success)
}

// bufferMessage parks a payload; when the buffer is full the oldest
// message gives way so fresh samples win.
func (p *Publisher) bufferMessage(topic string, payload []byte) error {
	msg := bufferedMessage{topic: topic, payload: payload}
	select {
	case p.buffer <- msg:
	default:
		select {
		case <-p.buffer:
			p.buffer <- msg
			p.logger.Warn().Msg("publish buffer full, dropped oldest sample")
		default:
			return fmt.Errorf("%w: publish buffer full", domain.ErrMQTTPublishFailed)
		}
	}
	p.buffered.Add(1)
	p.metrics.SetMQTTBufferSize(len(p.buffer))
	return nil
}

// drainLoop replays buffered payloads once the broker is back.
func (p *Publisher) drainLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			p.drainRemaining()
			return
		case msg := <-p.buffer:
			p.metrics.SetMQTTBufferSize(len(p.buffer))
			if p.connected.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
				if err := p.publishRaw(ctx, msg.topic, msg.payload); err != nil {
					p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("failed to publish buffered sample")
				}
				cancel()
			} else {
				select {
				case p.buffer <- msg:
				default:
				}
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (p *Publisher) drainRemaining() {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-p.buffer:
			if p.connected.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
				if err := p.publishRaw(ctx, msg.topic, msg.payload); err != nil {
					p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("failed to drain buffered sample")
				}
				cancel()
			}
		case <-timeout:
			if remaining := len(p.buffer); remaining > 0 {
				p.logger.Warn().Int("count", remaining).Msg("timeout draining buffer, samples dropped")
			}
			return
		default:
			return
		}
	}
}

func (p *Publisher) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if p.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(p.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if p.config.TLSCertFile != "" && p.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(p.config.TLSCertFile, p.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (p *Publisher) onConnect(pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")
}

func (p *Publisher) onConnectionLost(_ pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(pahomqtt.Client, *pahomqtt.ClientOptions) {
	p.reconnects.Add(1)
	p.metrics.RecordMQTTReconnect()
	p.logger.Info().Msg("reconnecting to MQTT broker")
}

// IsConnected reports whether the broker session is up.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Stats returns cumulative publish counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:  p.published.Load(),
		Failed:     p.failed.Load(),
		Buffered:   p.buffered.Load(),
		BytesSent:  p.bytesSent.Load(),
		Reconnects: p.reconnects.Load(),
	}
}

// BufferSize returns the number of samples waiting for the broker.
func (p *Publisher) BufferSize() int {
	return len(p.buffer)
}

// HealthCheck reports healthy only with a live broker session.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}

// Client exposes the underlying MQTT session for the write-command
// subscriber.
func (p *Publisher) Client() pahomqtt.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}
