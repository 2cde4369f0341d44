package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

// RegisterWriter is the slice of the Modbus client the command handler
// needs.
type RegisterWriter interface {
	WriteSingleRegister(ctx context.Context, addr, value uint16) error
	WriteMultipleRegisters(ctx context.Context, start uint16, values []uint16) error
}

// CommandConfig holds the write-command handler configuration.
type CommandConfig struct {
	// TopicPrefix is the bridge topic prefix; commands live under
	// <prefix>/cmd/<point-id>/set.
	TopicPrefix string

	QoS          byte
	WriteTimeout time.Duration

	// Acks enables JSON acknowledgements on <prefix>/cmd/<point-id>/ack.
	Acks bool

	QueueSize int
}

// DefaultCommandConfig returns the bridge defaults.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		TopicPrefix:  "plclink",
		QoS:          1,
		WriteTimeout: 10 * time.Second,
		Acks:         true,
		QueueSize:    100,
	}
}

// writeCommand is one queued inbound write.
type writeCommand struct {
	pointID  string
	value    interface{}
	received time.Time
}

// writeAck is the acknowledgement payload.
type writeAck struct {
	PointID    string      `json:"point_id"`
	Value      interface{} `json:"value"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Timestamp  int64       `json:"ts"`
	DurationMS int64       `json:"duration_ms"`
}

// CommandStats is a snapshot of write-command counters.
type CommandStats struct {
	Received  uint64 `json:"received"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// CommandHandler subscribes to per-point set topics and writes inbound
// values to the PLC. Commands flow through a bounded queue processed by
// a single worker: the Modbus session carries one transaction at a time,
// so there is nothing to gain from concurrent writers.
type CommandHandler struct {
	mqttClient pahomqtt.Client
	writer     RegisterWriter
	points     map[string]*domain.Point
	config     CommandConfig
	logger     zerolog.Logger
	metrics    *metrics.Registry

	running atomic.Bool
	queue   chan writeCommand
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	received  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewCommandHandler creates a handler over the writable points.
func NewCommandHandler(
	mqttClient pahomqtt.Client,
	writer RegisterWriter,
	points []*domain.Point,
	config CommandConfig,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *CommandHandler {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	config.TopicPrefix = strings.Trim(config.TopicPrefix, "/")

	byID := make(map[string]*domain.Point)
	for _, p := range points {
		if p.Enabled && p.Writable {
			byID[p.ID] = p
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandHandler{
		mqttClient: mqttClient,
		writer:     writer,
		points:     byID,
		config:     config,
		logger:     logger.With().Str("component", "commands").Logger(),
		metrics:    metricsReg,
		queue:      make(chan writeCommand, config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SubscribedTopic returns the wildcard topic the handler listens on.
func (h *CommandHandler) SubscribedTopic() string {
	return fmt.Sprintf("%s/cmd/+/set", h.config.TopicPrefix)
}

// Start subscribes to the command topic and launches the write worker.
func (h *CommandHandler) Start() error {
	if h.running.Load() {
		return nil
	}

	h.wg.Add(1)
	go h.processQueue()

	topic := h.SubscribedTopic()
	token := h.mqttClient.Subscribe(topic, h.config.QoS, h.handleSet)
	if token.Wait() && token.Error() != nil {
		h.cancel()
		h.wg.Wait()
		return fmt.Errorf("%w: %v", domain.ErrMQTTSubscribeFailed, token.Error())
	}

	h.running.Store(true)
	h.logger.Info().
		Str("topic", topic).
		Int("writable_points", len(h.points)).
		Msg("command handler started")
	return nil
}

// Stop unsubscribes and drains the queue.
func (h *CommandHandler) Stop() error {
	if !h.running.Load() {
		return nil
	}

	h.mqttClient.Unsubscribe(h.SubscribedTopic())
	h.cancel()
	h.wg.Wait()
	h.running.Store(false)

	h.logger.Info().Msg("command handler stopped")
	return nil
}

// handleSet parses an inbound set message and queues the write.
// Topic: <prefix>/cmd/<point-id>/set; payload: raw JSON value.
func (h *CommandHandler) handleSet(_ pahomqtt.Client, msg pahomqtt.Message) {
	h.received.Add(1)

	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 {
		h.logger.Warn().Str("topic", msg.Topic()).Msg("invalid command topic")
		h.reject()
		return
	}
	pointID := parts[len(parts)-2]

	var value interface{}
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		// Bare strings arrive unquoted from simple tooling.
		value = string(msg.Payload())
	}

	cmd := writeCommand{pointID: pointID, value: value, received: time.Now()}
	select {
	case h.queue <- cmd:
	default:
		h.logger.Warn().Str("point", pointID).Msg("command rejected: queue full")
		h.sendAck(cmd, false, "command queue full", 0)
		h.reject()
	}
}

func (h *CommandHandler) processQueue() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			h.drainQueue()
			return
		case cmd := <-h.queue:
			h.execute(cmd)
		}
	}
}

func (h *CommandHandler) drainQueue() {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cmd := <-h.queue:
			h.execute(cmd)
		case <-timeout:
			if remaining := len(h.queue); remaining > 0 {
				h.logger.Warn().Int("count", remaining).Msg("timeout draining command queue, commands dropped")
			}
			return
		default:
			return
		}
	}
}

// execute converts and writes one command.
func (h *CommandHandler) execute(cmd writeCommand) {
	began := time.Now()

	point, ok := h.points[cmd.pointID]
	if !ok {
		h.fail(cmd, "unknown or read-only point", began)
		return
	}

	words, err := modbus.EncodePointValue(point, cmd.value)
	if err != nil {
		h.fail(cmd, err.Error(), began)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.config.WriteTimeout)
	defer cancel()

	if len(words) == 1 {
		err = h.writer.WriteSingleRegister(ctx, point.Address, words[0])
	} else {
		err = h.writer.WriteMultipleRegisters(ctx, point.Address, words)
	}
	if err != nil {
		h.fail(cmd, err.Error(), began)
		return
	}

	h.succeeded.Add(1)
	h.metrics.RecordWriteCommand("ok")
	h.sendAck(cmd, true, "", time.Since(began))

	h.logger.Debug().
		Str("point", cmd.pointID).
		Interface("value", cmd.value).
		Dur("duration", time.Since(began)).
		Msg("write command succeeded")
}

func (h *CommandHandler) fail(cmd writeCommand, reason string, began time.Time) {
	h.failed.Add(1)
	h.metrics.RecordWriteCommand("failed")
	h.logger.Warn().
		Str("point", cmd.pointID).
		Interface("value", cmd.value).
		Str("reason", reason).
		Msg("write command failed")
	h.sendAck(cmd, false, reason, time.Since(began))
}

func (h *CommandHandler) reject() {
	h.rejected.Add(1)
	h.metrics.RecordWriteCommand("rejected")
}

// sendAck publishes an acknowledgement on <prefix>/cmd/<point-id>/ack.
func (h *CommandHandler) sendAck(cmd writeCommand, success bool, errMsg string, duration time.Duration) {
	if !h.config.Acks {
		return
	}

	payload, err := json.Marshal(writeAck{
		PointID:    cmd.pointID,
		Value:      cmd.value,
		Success:    success,
		Error:      errMsg,
		Timestamp:  time.Now().UnixMilli(),
		DurationMS: duration.Milliseconds(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal ack")
		return
	}

	topic := fmt.Sprintf("%s/cmd/%s/ack", h.config.TopicPrefix, cmd.pointID)
	token := h.mqttClient.Publish(topic, h.config.QoS, false, payload)
	if token.Wait() && token.Error() != nil {
		h.logger.Error().Err(token.Error()).Msg("failed to publish ack")
	}
}

// Stats returns a snapshot of write-command counters.
func (h *CommandHandler) Stats() CommandStats {
	return CommandStats{
		Received:  h.received.Load(),
		Succeeded: h.succeeded.Load(),
		Failed:    h.failed.Load(),
		Rejected:  h.rejected.Load(),
	}
}
