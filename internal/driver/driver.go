// Package driver moves raw Ethernet frames between the stack and the outside
// world.
package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// Driver sends and receives whole Ethernet frames. Recv never blocks: it
// returns 0 when no frame is available.
type Driver interface {
	Send(frame []byte) error
	Recv(buf []byte) (int, error)
	Close() error
}

// Config selects a driver and carries its type-specific options.
type Config struct {
	Type    string                 `mapstructure:"type" yaml:"type"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// OpenFunc creates a driver from decoded options. mac is the local
// interface address, used by drivers that filter on it.
type OpenFunc func(options map[string]interface{}, mac core.HardwareAddr) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OpenFunc)
)

// Register makes a driver available to Open under name.
func Register(name string, fn OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Types lists the registered driver names.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the driver named by cfg.Type.
func Open(cfg Config, mac core.HardwareAddr) (Driver, error) {
	registryMu.RLock()
	fn, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown driver type %q (available: %v)", core.ErrConfigInvalid, cfg.Type, Types())
	}
	return fn(cfg.Options, mac)
}

// decodeOptions decodes a free-form option map into out.
func decodeOptions(options map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: driver options: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
