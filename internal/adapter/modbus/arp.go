package modbus

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/hwsock"
)

// arpResolver drives the chip's ARP machinery for the PLC address. Offload
// chips cache the peer MAC in hardware and can keep serving a stale entry
// after a link flap, so recovery forces a re-resolution instead of trusting
// the cache.
type arpResolver struct {
	transport hwsock.Transport
	target    netip.Addr
	logger    zerolog.Logger

	forceMode   atomic.Bool
	refreshes   atomic.Uint64
	lastRefresh atomic.Int64
}

func newARPResolver(transport hwsock.Transport, target netip.Addr, logger zerolog.Logger) *arpResolver {
	return &arpResolver{
		transport: transport,
		target:    target,
		logger:    logger,
	}
}

// Refresh drops the cached hardware mapping for the target and re-triggers
// resolution. Best-effort: the next connect attempt reports the real
// outcome.
func (a *arpResolver) Refresh() error {
	if err := a.transport.ForceARPRefresh(a.target); err != nil {
		return fmt.Errorf("arp refresh for %s: %w", a.target, err)
	}
	a.refreshes.Add(1)
	a.lastRefresh.Store(time.Now().UnixNano())
	a.logger.Debug().Str("target", a.target.String()).Msg("forced ARP refresh")
	return nil
}

// SetForceMode toggles re-resolving the target before every connection
// attempt, for networks whose caches go stale faster than the chip notices.
func (a *arpResolver) SetForceMode(enabled bool) {
	a.forceMode.Store(enabled)
	a.logger.Info().Bool("enabled", enabled).Msg("force ARP mode changed")
}

func (a *arpResolver) ForceMode() bool {
	return a.forceMode.Load()
}

// ARPStats is a read-only snapshot of resolver activity.
type ARPStats struct {
	Target      string    `json:"target"`
	ForceMode   bool      `json:"force_mode"`
	Refreshes   uint64    `json:"refreshes"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}

func (a *arpResolver) Stats() ARPStats {
	stats := ARPStats{
		Target:    a.target.String(),
		ForceMode: a.forceMode.Load(),
		Refreshes: a.refreshes.Load(),
	}
	if ns := a.lastRefresh.Load(); ns > 0 {
		stats.LastRefresh = time.Unix(0, ns)
	}
	return stats
}
