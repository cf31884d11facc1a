// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/driver"
	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/stack"
)

// Config is the complete xnet configuration.
// Maps to the `xnet:` root key in YAML.
type Config struct {
	Interface InterfaceConfig `mapstructure:"interface" yaml:"interface"`
	ARP       ARPConfig       `mapstructure:"arp" yaml:"arp"`
	IP        IPConfig        `mapstructure:"ip" yaml:"ip"`
	TCP       TCPConfig       `mapstructure:"tcp" yaml:"tcp"`
	Tables    TablesConfig    `mapstructure:"tables" yaml:"tables"`
	Poll      PollConfig      `mapstructure:"poll" yaml:"poll"`
	Driver    driver.Config   `mapstructure:"driver" yaml:"driver"`
	Filter    FilterConfig    `mapstructure:"filter" yaml:"filter"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Echo      EchoConfig      `mapstructure:"echo" yaml:"echo"`
	Log       log.Config      `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`

	// parsed by ValidateAndApplyDefaults
	mac            core.HardwareAddr
	ip             core.IPv4
	arpTimeout     time.Duration
	arpMinInterval time.Duration
	idleSleep      time.Duration
}

// ─── Protocol Parameters ───

// InterfaceConfig identifies the local interface.
type InterfaceConfig struct {
	MAC string `mapstructure:"mac" yaml:"mac"`
	IP  string `mapstructure:"ip" yaml:"ip"`
	MTU int    `mapstructure:"mtu" yaml:"mtu"`
}

// ARPConfig contains ARP cache timing.
type ARPConfig struct {
	Timeout     string `mapstructure:"timeout" yaml:"timeout"`           // cache entry lifetime, e.g. "300s"
	MinInterval string `mapstructure:"min_interval" yaml:"min_interval"` // minimum gap between requests for one address
}

// IPConfig contains IPv4 send parameters.
type IPConfig struct {
	TTL int `mapstructure:"ttl" yaml:"ttl"`
}

// TCPConfig contains TCP connection parameters.
type TCPConfig struct {
	InitialSeq uint32 `mapstructure:"initial_seq" yaml:"initial_seq"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"` // per connection, each direction
}

// TablesConfig sizes every protocol table.
type TablesConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// PollConfig controls the receive loop.
type PollConfig struct {
	IdleSleep string `mapstructure:"idle_sleep" yaml:"idle_sleep"` // sleep when no frame arrived; "0s" spins
}

// ─── Driver Wrappers ───

// FilterConfig enables the host BPF filter in front of the stack.
type FilterConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// CaptureConfig records every frame in both directions to a pcap file.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	SnapLen int    `mapstructure:"snap_len" yaml:"snap_len"`
}

// ─── Applications ───

// HTTPConfig configures the static file server.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	DocRoot string `mapstructure:"doc_root" yaml:"doc_root"`
}

// EchoConfig configures the UDP echo service.
type EchoConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// ─── Process ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ControlConfig contains process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `xnet: ...`.
type configRoot struct {
	Xnet Config `mapstructure:"xnet" yaml:"xnet"`
}

// Load loads configuration from file.
// The YAML file uses `xnet:` as root key; env vars use the XNET_ prefix
// (e.g., XNET_LOG_LEVEL, XNET_INTERFACE_IP).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

// LoadDefaults builds a configuration from defaults and environment only.
func LoadDefaults() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// key "xnet.log.level" -> env "XNET_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Xnet

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "xnet." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Interface defaults; mac and ip are registered so env overrides apply
	v.SetDefault("xnet.interface.mac", "")
	v.SetDefault("xnet.interface.ip", "")
	v.SetDefault("xnet.interface.mtu", stack.DefaultMTU)

	// Protocol defaults
	v.SetDefault("xnet.arp.timeout", "300s")
	v.SetDefault("xnet.arp.min_interval", "1s")
	v.SetDefault("xnet.ip.ttl", stack.DefaultTTL)
	v.SetDefault("xnet.tcp.initial_seq", stack.DefaultInitialSeq)
	v.SetDefault("xnet.tcp.buffer_size", stack.DefaultBufferSize)
	v.SetDefault("xnet.tables.capacity", stack.DefaultTableCapacity)
	v.SetDefault("xnet.poll.idle_sleep", "1ms")

	// Driver defaults
	v.SetDefault("xnet.driver.type", "afpacket")
	v.SetDefault("xnet.filter.enabled", false)
	v.SetDefault("xnet.capture.enabled", false)
	v.SetDefault("xnet.capture.path", "xnet.pcap")
	v.SetDefault("xnet.capture.snap_len", driver.DefaultSnapLen)

	// Application defaults
	v.SetDefault("xnet.http.enabled", true)
	v.SetDefault("xnet.http.port", 80)
	v.SetDefault("xnet.http.doc_root", "./htmldocs")
	v.SetDefault("xnet.echo.enabled", false)
	v.SetDefault("xnet.echo.port", 7)

	// Log defaults
	v.SetDefault("xnet.log.level", "info")
	v.SetDefault("xnet.log.format", "text")
	v.SetDefault("xnet.log.pattern", log.DefaultPattern)
	v.SetDefault("xnet.log.time", log.DefaultTimeLayout)
	v.SetDefault("xnet.log.caller", false)
	v.SetDefault("xnet.log.file.enabled", false)
	v.SetDefault("xnet.log.file.filename", "/var/log/xnet/xnet.log")
	v.SetDefault("xnet.log.file.max_size", 100)
	v.SetDefault("xnet.log.file.max_backups", 5)
	v.SetDefault("xnet.log.file.max_age", 30)
	v.SetDefault("xnet.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("xnet.metrics.enabled", false)
	v.SetDefault("xnet.metrics.listen", ":9091")
	v.SetDefault("xnet.metrics.path", "/metrics")

	// Control defaults
	v.SetDefault("xnet.control.pid_file", "/var/run/xnet.pid")
}

// ValidateAndApplyDefaults validates configuration and parses the values
// the stack consumes.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Filename == "" {
		return fmt.Errorf("log.file.filename is required when log.file.enabled=true")
	}

	// ── Interface ──
	mac, err := core.ParseHardwareAddr(cfg.Interface.MAC)
	if err != nil {
		return fmt.Errorf("interface.mac: %w", err)
	}
	if mac.IsZero() {
		return fmt.Errorf("interface.mac must not be all zeros")
	}
	cfg.mac = mac
	ip, err := core.ParseIPv4(cfg.Interface.IP)
	if err != nil {
		return fmt.Errorf("interface.ip: %w", err)
	}
	cfg.ip = ip
	if cfg.Interface.MTU < 576 || cfg.Interface.MTU > 65535 {
		return fmt.Errorf("interface.mtu %d out of range [576, 65535]", cfg.Interface.MTU)
	}

	// ── Protocol parameters ──
	if cfg.arpTimeout, err = parsePositive("arp.timeout", cfg.ARP.Timeout); err != nil {
		return err
	}
	if cfg.arpMinInterval, err = parsePositive("arp.min_interval", cfg.ARP.MinInterval); err != nil {
		return err
	}
	if cfg.idleSleep, err = time.ParseDuration(cfg.Poll.IdleSleep); err != nil || cfg.idleSleep < 0 {
		return fmt.Errorf("invalid poll.idle_sleep: %q", cfg.Poll.IdleSleep)
	}
	if cfg.IP.TTL < 1 || cfg.IP.TTL > 255 {
		return fmt.Errorf("ip.ttl %d out of range [1, 255]", cfg.IP.TTL)
	}
	if cfg.Tables.Capacity < 1 {
		return fmt.Errorf("tables.capacity must be positive")
	}
	if cfg.TCP.BufferSize < cfg.Interface.MTU {
		return fmt.Errorf("tcp.buffer_size %d must be at least interface.mtu %d", cfg.TCP.BufferSize, cfg.Interface.MTU)
	}

	// ── Driver ──
	if cfg.Driver.Type == "" {
		return fmt.Errorf("driver.type is required")
	}
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		return fmt.Errorf("capture.path is required when capture.enabled=true")
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = driver.DefaultSnapLen
	}

	// ── Applications ──
	if cfg.HTTP.Enabled {
		if err := validPort("http.port", cfg.HTTP.Port); err != nil {
			return err
		}
		if cfg.HTTP.DocRoot == "" {
			return fmt.Errorf("http.doc_root is required when http.enabled=true")
		}
	}
	if cfg.Echo.Enabled {
		if err := validPort("echo.port", cfg.Echo.Port); err != nil {
			return err
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

func parsePositive(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q (must be a positive duration)", key, s)
	}
	return d, nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range [1, 65535]", key, port)
	}
	return nil
}

// StackConfig returns the stack parameters. The configuration must have
// passed ValidateAndApplyDefaults.
func (cfg *Config) StackConfig() stack.Config {
	return stack.Config{
		MAC:            cfg.mac,
		IP:             cfg.ip,
		MTU:            cfg.Interface.MTU,
		ARPTimeout:     cfg.arpTimeout,
		ARPMinInterval: cfg.arpMinInterval,
		TTL:            uint8(cfg.IP.TTL),
		TableCapacity:  cfg.Tables.Capacity,
		InitialSeq:     cfg.TCP.InitialSeq,
		BufferSize:     cfg.TCP.BufferSize,
		IdleSleep:      cfg.idleSleep,
	}
}

// MAC returns the parsed interface hardware address.
func (cfg *Config) MAC() core.HardwareAddr { return cfg.mac }

// Dump writes the configuration as YAML under the `xnet:` root key.
func (cfg *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configRoot{Xnet: *cfg}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
