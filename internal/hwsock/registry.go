package hwsock

import (
	"fmt"
	"sync"

	"github.com/nexus-edge/plc-link/internal/domain"
)

// Factory builds a Transport for the given chip addressing. Drivers
// register themselves by name so the bridge can pick one from config.
type Factory func(cfg NetworkConfig) (Transport, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// RegisterDriver makes a transport driver available under name.
// It panics if name is already taken; driver registration happens at init
// time and a collision is a programming error.
func RegisterDriver(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("hwsock: duplicate driver " + name)
	}
	drivers[name] = factory
}

// NewTransport builds the named driver.
func NewTransport(name string, cfg NetworkConfig) (Transport, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTransport, name)
	}
	return factory(cfg)
}

// Drivers returns the names of all registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}
