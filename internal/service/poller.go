// Package service runs the bridge's poll loop and the inbound
// write-command handler.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
)

// RegisterReader is the slice of the Modbus client the poller needs.
type RegisterReader interface {
	ReadHoldingRegisters(ctx context.Context, start, count uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, start, count uint16) ([]uint16, error)
}

// SamplePublisher delivers samples to the broker.
type SamplePublisher interface {
	Publish(ctx context.Context, sample *domain.Sample) error
	PublishBatch(ctx context.Context, samples []*domain.Sample) error
	Topic(suffix string) string
}

// PollerConfig holds the poll loop configuration.
type PollerConfig struct {
	Interval        time.Duration
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PollerStats is a point-in-time snapshot of poll loop counters.
type PollerStats struct {
	Cycles        uint64    `json:"cycles"`
	PointsGood    uint64    `json:"points_good"`
	PointsBad     uint64    `json:"points_bad"`
	PointsSkipped uint64    `json:"points_skipped"`
	Paused        bool      `json:"paused"`
	LastCycle     time.Time `json:"last_cycle"`
}

// Poller reads the configured points from the PLC on a fixed interval,
// converts them to engineering values, and hands samples to the
// publisher. Every sample is published with a quality grade; consumers
// see outages as quality changes rather than silence.
//
// A circuit breaker wraps the register reads so a long PLC outage
// degrades to cheap skipped cycles instead of a full reconnect budget
// burned every interval.
type Poller struct {
	config    PollerConfig
	reader    RegisterReader
	publisher SamplePublisher
	points    []*domain.Point
	logger    zerolog.Logger
	metrics   *metrics.Registry
	breaker   *gobreaker.CircuitBreaker

	started atomic.Bool
	paused  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cycles     atomic.Uint64
	goodPoints atomic.Uint64
	badPoints  atomic.Uint64
	skipped    atomic.Uint64

	mu        sync.RWMutex
	lastCycle time.Time
}

// NewPoller creates a poller over the given points. Disabled points are
// filtered out here so the loop never sees them.
func NewPoller(
	config PollerConfig,
	reader RegisterReader,
	publisher SamplePublisher,
	points []*domain.Point,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *Poller {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = config.Interval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	enabled := make([]*domain.Point, 0, len(points))
	for _, p := range points {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}

	componentLogger := logger.With().Str("component", "poller").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "plc-poll",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Poller{
		config:    config,
		reader:    reader,
		publisher: publisher,
		points:    enabled,
		logger:    componentLogger,
		metrics:   metricsReg,
		breaker:   breaker,
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return nil
	}
	if len(p.points) == 0 {
		p.logger.Warn().Msg("no enabled points configured, poll loop idle")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(loopCtx)

	p.logger.Info().
		Int("points", len(p.points)).
		Dur("interval", p.config.Interval).
		Msg("poll loop started")
	return nil
}

// Stop halts the poll loop, waiting up to the shutdown timeout for the
// in-flight cycle to finish.
func (p *Poller) Stop(ctx context.Context) error {
	if !p.started.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("poll loop stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("timeout waiting for poll loop to stop")
		return ctx.Err()
	}
}

// Pause suspends polling without tearing down the loop.
func (p *Poller) Pause() {
	if !p.paused.Swap(true) {
		p.metrics.SetPollPaused(true)
		p.logger.Info().Msg("polling paused")
	}
}

// Resume restarts a paused loop.
func (p *Poller) Resume() {
	if p.paused.Swap(false) {
		p.metrics.SetPollPaused(false)
		p.logger.Info().Msg("polling resumed")
	}
}

// Paused reports whether polling is administratively paused.
func (p *Poller) Paused() bool {
	return p.paused.Load()
}

// Points returns the enabled points the loop covers.
func (p *Poller) Points() []*domain.Point {
	return p.points
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle reads every enabled point once and publishes the results.
func (p *Poller) cycle(ctx context.Context) {
	if p.paused.Load() || len(p.points) == 0 {
		return
	}

	began := time.Now()
	samples := make([]*domain.Sample, 0, len(p.points))
	good, bad := 0, 0

	for _, point := range p.points {
		if ctx.Err() != nil {
			return
		}
		sample := p.readPoint(ctx, point)
		if sample.Quality == domain.QualityGood {
			good++
		} else {
			bad++
		}
		samples = append(samples, sample)
	}

	if err := p.publisher.PublishBatch(ctx, samples); err != nil {
		p.logger.Warn().Err(err).Int("samples", len(samples)).Msg("failed to publish some samples")
	}

	duration := time.Since(began)
	p.cycles.Add(1)
	p.goodPoints.Add(uint64(good))
	p.badPoints.Add(uint64(bad))
	p.mu.Lock()
	p.lastCycle = began
	p.mu.Unlock()
	p.metrics.RecordPollCycle(duration, good, bad)

	p.logger.Debug().
		Int("good", good).
		Int("bad", bad).
		Dur("duration", duration).
		Msg("poll cycle completed")
}

// readPoint reads one point through the breaker and grades the result.
func (p *Poller) readPoint(ctx context.Context, point *domain.Point) *domain.Sample {
	topic := p.topicFor(point)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(ctx, p.config.ReadTimeout)
		defer cancel()

		rng := point.Range()
		if point.Register == domain.RegisterTypeInput {
			return p.reader.ReadInputRegisters(readCtx, rng.Start, rng.Count)
		}
		return p.reader.ReadHoldingRegisters(readCtx, rng.Start, rng.Count)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.skipped.Add(1)
			sample := domain.NewSample(point.ID, topic, nil, point.Unit, domain.QualityNotConnected)
			return sample
		}
		sample := domain.NewSample(point.ID, topic, nil, point.Unit, gradeReadError(err))
		p.logger.Debug().Err(err).Str("point", point.ID).Msg("point read failed")
		return sample
	}

	words := result.([]uint16)
	value, err := modbus.DecodePointValue(point, words)
	if err != nil {
		p.logger.Warn().Err(err).Str("point", point.ID).Msg("point decode failed")
		return domain.NewSample(point.ID, topic, nil, point.Unit, domain.QualityBad)
	}

	sample := domain.NewSample(point.ID, topic, value, point.Unit, domain.QualityGood)
	sample.Raw = words
	return sample
}

// gradeReadError maps a read failure onto a sample quality.
func gradeReadError(err error) domain.Quality {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.QualityTimeout
	case errors.Is(err, domain.ErrCommunicationLost),
		errors.Is(err, domain.ErrNoLink),
		errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrReconnectExhausted),
		errors.Is(err, domain.ErrConnectFailed),
		errors.Is(err, domain.ErrConnectTimeout):
		return domain.QualityNotConnected
	default:
		return domain.QualityBad
	}
}

// topicFor derives a point's publish topic: the configured suffix, then
// the name, then the id, sanitized for MQTT.
func (p *Poller) topicFor(point *domain.Point) string {
	suffix := strings.TrimSpace(point.TopicSuffix)
	if suffix == "" {
		suffix = point.Name
	}
	if strings.TrimSpace(suffix) == "" {
		suffix = point.ID
	}
	return p.publisher.Topic(sanitizeTopicSegment(suffix))
}

// sanitizeTopicSegment strips MQTT wildcard and separator characters.
func sanitizeTopicSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "#", "_")
	s = strings.ReplaceAll(s, "+", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return strings.Trim(s, "_")
}

// Stats returns a snapshot of poll loop counters.
func (p *Poller) Stats() PollerStats {
	p.mu.RLock()
	last := p.lastCycle
	p.mu.RUnlock()

	return PollerStats{
		Cycles:        p.cycles.Load(),
		PointsGood:    p.goodPoints.Load(),
		PointsBad:     p.badPoints.Load(),
		PointsSkipped: p.skipped.Load(),
		Paused:        p.paused.Load(),
		LastCycle:     last,
	}
}
