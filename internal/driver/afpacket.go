package driver

import "time"

const (
	defaultAFPacketSnapLen     = 2048
	defaultAFPacketBufferMB    = 8
	defaultAFPacketPollTimeout = 10 * time.Millisecond
)

// AFPacketOptions are the options accepted by the "afpacket" driver.
type AFPacketOptions struct {
	Device       string        `mapstructure:"device"`
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	HostFilter   bool          `mapstructure:"host_filter"`
}
