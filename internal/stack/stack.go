// Package stack implements a single-threaded Ethernet/ARP/IPv4/ICMP/UDP/TCP
// protocol engine driven by polling a frame driver.
//
// A Stack owns every table it uses. Nothing in it is safe for concurrent
// use: Poll, Run and every application call must come from one goroutine,
// and handlers invoked from Poll must not call Poll themselves.
package stack

import (
	"context"
	"fmt"
	"time"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/driver"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

// Defaults applied to zero Config fields.
const (
	DefaultMTU            = 1500
	DefaultARPTimeout     = 300 * time.Second
	DefaultARPMinInterval = 1 * time.Second
	DefaultTTL            = 64
	DefaultTableCapacity  = 256
	DefaultInitialSeq     = 191810
	DefaultBufferSize     = 65536

	minMTU     = 68
	txHeadroom = 64
)

// Config describes the local interface and protocol parameters.
type Config struct {
	MAC            core.HardwareAddr
	IP             core.IPv4
	MTU            int
	ARPTimeout     time.Duration
	ARPMinInterval time.Duration
	TTL            uint8
	TableCapacity  int
	InitialSeq     uint32
	BufferSize     int // per-connection TCP send and receive buffer capacity
	IdleSleep      time.Duration
}

func (c *Config) applyDefaults() {
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.ARPTimeout == 0 {
		c.ARPTimeout = DefaultARPTimeout
	}
	if c.ARPMinInterval == 0 {
		c.ARPMinInterval = DefaultARPMinInterval
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.TableCapacity == 0 {
		c.TableCapacity = DefaultTableCapacity
	}
	if c.InitialSeq == 0 {
		c.InitialSeq = DefaultInitialSeq
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
}

func (c *Config) validate() error {
	if c.MAC.IsZero() {
		return fmt.Errorf("%w: interface MAC address is required", core.ErrConfigInvalid)
	}
	if c.IP == (core.IPv4{}) {
		return fmt.Errorf("%w: interface IP address is required", core.ErrConfigInvalid)
	}
	if c.MTU < minMTU || c.MTU > 65535 {
		return fmt.Errorf("%w: MTU %d out of range [%d, 65535]", core.ErrConfigInvalid, c.MTU, minMTU)
	}
	if c.TableCapacity < 1 {
		return fmt.Errorf("%w: table capacity must be positive", core.ErrConfigInvalid)
	}
	if c.BufferSize < c.MTU {
		return fmt.Errorf("%w: TCP buffer size %d below MTU %d", core.ErrConfigInvalid, c.BufferSize, c.MTU)
	}
	return nil
}

// Option customizes a Stack.
type Option func(*Stack)

// WithLogger replaces the process logger.
func WithLogger(l log.Logger) Option {
	return func(s *Stack) { s.log = l }
}

// WithClock replaces time.Now for table expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Stack) { s.now = now }
}

// WithISN replaces the fixed initial TCP sequence number with fn.
func WithISN(fn func() uint32) Option {
	return func(s *Stack) { s.isn = fn }
}

// Stack is one network interface and its protocol state.
type Stack struct {
	cfg Config
	drv driver.Driver
	log log.Logger
	now func() time.Time
	isn func() uint32
	rx  *buffer.Buffer

	eth  *ethernet
	arp  *arp
	ip   *ipv4
	icmp *icmp
	udp  *udp
	tcp  *tcp
}

// New builds a stack on drv and announces the local address with a
// gratuitous ARP request.
func New(cfg Config, drv driver.Driver, opts ...Option) (*Stack, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Stack{
		cfg: cfg,
		drv: drv,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.GetLogger()
	}
	s.log = s.log.WithField("if", cfg.IP.String())
	if s.isn == nil {
		s.isn = func() uint32 { return cfg.InitialSeq }
	}

	rx, err := buffer.NewWithCapacity(2*(s.frameLen()+txHeadroom), 0)
	if err != nil {
		return nil, err
	}
	s.rx = rx

	s.eth = newEthernet(s)
	s.arp = newARP(s)
	s.ip = newIPv4(s)
	s.icmp = &icmp{s: s}
	s.udp = newUDP(s)
	s.tcp = newTCP(s)

	s.eth.register(core.EtherTypeARP, s.arp)
	s.eth.register(core.EtherTypeIPv4, s.ip)
	s.ip.register(core.ProtocolICMP, s.icmp)
	s.ip.register(core.ProtocolUDP, s.udp)
	s.ip.register(core.ProtocolTCP, s.tcp)

	s.log.WithFields(map[string]interface{}{
		"mac": cfg.MAC.String(),
		"mtu": cfg.MTU,
	}).Info("stack started")

	if err := s.arp.request(cfg.IP); err != nil {
		s.log.WithError(err).Warn("gratuitous ARP failed")
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Stack) Config() Config { return s.cfg }

// frameLen is the largest frame Poll accepts: MTU plus Ethernet header and
// room for a VLAN tag.
func (s *Stack) frameLen() int {
	return s.cfg.MTU + header.EthernetLen + 4
}

// Poll receives at most one frame and runs it through the receive path.
// It reports whether a frame was processed. Driver errors, including io.EOF
// from a finished replay, are returned unchanged.
func (s *Stack) Poll() (bool, error) {
	if err := s.rx.Init(s.frameLen()); err != nil {
		return false, err
	}
	n, err := s.drv.Recv(s.rx.Bytes())
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := s.rx.Truncate(n); err != nil {
		return false, err
	}
	metrics.FramesTotal.WithLabelValues(metrics.DirectionRx).Inc()
	s.eth.receive(s.rx)
	return true, nil
}

// Run polls until ctx is done or the driver fails. step, if non-nil, runs
// once per iteration and is where applications advance pending work. When
// no frame arrived, Run sleeps IdleSleep.
func (s *Stack) Run(ctx context.Context, step func()) error {
	var idle *time.Timer
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		got, err := s.Poll()
		if err != nil {
			return err
		}
		if step != nil {
			step()
		}
		if got || s.cfg.IdleSleep <= 0 {
			continue
		}

		if idle == nil {
			idle = time.NewTimer(s.cfg.IdleSleep)
		} else {
			idle.Reset(s.cfg.IdleSleep)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// drop records a discarded inbound packet.
func (s *Stack) drop(layer, reason string) {
	metrics.DropsTotal.WithLabelValues(layer, reason).Inc()
	if s.log.IsDebugEnabled() {
		s.log.WithFields(map[string]interface{}{
			"layer":  layer,
			"reason": reason,
		}).Debug("packet dropped")
	}
}

// newTxBuffer returns a buffer holding n zero bytes with headroom for every
// header the send path prepends and tailroom for Ethernet padding.
func (s *Stack) newTxBuffer(n int) *buffer.Buffer {
	b, err := buffer.NewWithCapacity(2*(n+txHeadroom), n)
	if err != nil {
		// only reachable with a negative n
		panic(err)
	}
	return b
}

// ARPEntries visits the live ARP cache in storage order.
func (s *Stack) ARPEntries(fn func(ip core.IPv4, mac core.HardwareAddr, updated time.Time) bool) {
	s.arp.cache.Foreach(fn)
}

// Resolve returns the cached hardware address for ip.
func (s *Stack) Resolve(ip core.IPv4) (core.HardwareAddr, bool) {
	return s.arp.cache.Get(ip)
}
