// Package daemon implements the xnet process lifecycle: it assembles the
// driver, the stack and the applications from configuration and runs the
// poll loop until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xuanhao44/net-lab-2023/internal/app/echo"
	"github.com/xuanhao44/net-lab-2023/internal/app/httpd"
	"github.com/xuanhao44/net-lab-2023/internal/config"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/driver"
	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/stack"
)

const shutdownTimeout = 5 * time.Second

// Daemon owns every component of a running xnet instance.
type Daemon struct {
	// Configuration
	config *config.Config
	log    log.Logger

	// Core components
	drv           driver.Driver
	stack         *stack.Stack
	httpd         *httpd.Server   // nil if http disabled
	echo          *echo.Server    // nil if echo disabled
	metricsServer *metrics.Server // nil if metrics disabled

	pidWritten bool
	stopped    bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithDriver uses drv instead of opening the configured driver. The capture
// and filter wrappers still apply.
func WithDriver(drv driver.Driver) Option {
	return func(d *Daemon) { d.drv = drv }
}

// WithLogger uses l instead of initializing the process logger from config.
func WithLogger(l log.Logger) Option {
	return func(d *Daemon) { d.log = l }
}

// New creates a daemon for cfg. cfg must have been validated.
func New(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{config: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stack returns the running stack, or nil before Start.
func (d *Daemon) Stack() *stack.Stack { return d.stack }

// Start initializes all components. On failure everything already started
// is torn down again.
func (d *Daemon) Start(ctx context.Context) error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.log.WithFields(map[string]interface{}{
		"mac":    d.config.Interface.MAC,
		"ip":     d.config.Interface.IP,
		"driver": d.config.Driver.Type,
	}).Info("starting xnet")

	err := d.start(ctx)
	if err != nil {
		d.Stop()
	}
	return err
}

func (d *Daemon) start(ctx context.Context) error {
	// 2. Write PID file
	if err := WritePIDFile(d.config.Control.PIDFile); err != nil {
		return err
	}
	d.pidWritten = d.config.Control.PIDFile != ""

	// 3. Start metrics server
	if err := d.startMetrics(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open driver
	if err := d.openDriver(); err != nil {
		return fmt.Errorf("failed to open driver: %w", err)
	}

	// 5. Create stack; this announces the interface with a gratuitous ARP
	s, err := stack.New(d.config.StackConfig(), d.drv, stack.WithLogger(d.log))
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}
	d.stack = s

	// 6. Open applications
	if d.config.HTTP.Enabled {
		srv, err := httpd.New(s, httpd.Config{
			Port:    uint16(d.config.HTTP.Port),
			DocRoot: d.config.HTTP.DocRoot,
		}, d.log)
		if err != nil {
			return err
		}
		if err := srv.Open(); err != nil {
			return fmt.Errorf("failed to open http port %d: %w", d.config.HTTP.Port, err)
		}
		d.httpd = srv
	}
	if d.config.Echo.Enabled {
		srv := echo.New(s, uint16(d.config.Echo.Port), d.log)
		if err := srv.Open(); err != nil {
			return fmt.Errorf("failed to open echo port %d: %w", d.config.Echo.Port, err)
		}
		d.echo = srv
	}

	d.log.Info("xnet started")
	return nil
}

// Run polls the stack until ctx is done, SIGINT or SIGTERM arrives, or the
// driver fails, then stops the daemon. The end of a replay input is a normal
// exit.
func (d *Daemon) Run(ctx context.Context) error {
	if d.stack == nil {
		return errors.New("daemon not started")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var step func()
	if d.httpd != nil {
		step = d.httpd.Step
	}

	d.log.Info("xnet running")
	err := d.stack.Run(ctx, step)
	switch {
	case errors.Is(err, io.EOF):
		d.log.Info("input exhausted")
		err = nil
	case errors.Is(err, context.Canceled):
		d.log.Info("shutdown requested")
		err = nil
	case err != nil:
		d.log.WithError(err).Error("poll loop failed")
	}

	d.Stop()
	return err
}

// Stop performs graceful shutdown of all components. It is safe to call
// more than once.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	if d.log == nil {
		d.log = log.GetLogger()
	}
	d.log.Info("initiating graceful shutdown")

	// 1. Close applications; this sends FINs on served connections
	if d.httpd != nil {
		d.httpd.Close()
	}
	if d.echo != nil {
		d.echo.Close()
	}

	// 2. Log final protocol state
	if d.stack != nil {
		d.dumpState()
	}

	// 3. Close driver, flushing capture and replay output
	if d.drv != nil {
		if err := d.drv.Close(); err != nil {
			d.log.WithError(err).Error("error closing driver")
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.metricsServer.Stop(ctx); err != nil {
			d.log.WithError(err).Error("error stopping metrics server")
		}
	}

	// 5. Remove PID file
	if d.pidWritten {
		if err := RemovePIDFile(d.config.Control.PIDFile); err != nil {
			d.log.WithError(err).Error("error removing PID file")
		}
	}

	d.log.Info("xnet stopped")
}

// initLogging initializes the process logger from config.
func (d *Daemon) initLogging() error {
	if d.log != nil {
		return nil
	}
	if err := log.Init(d.config.Log); err != nil {
		return err
	}
	d.log = log.GetLogger()
	d.log.WithFields(map[string]interface{}{
		"level":  d.config.Log.Level,
		"format": d.config.Log.Format,
	}).Debug("logging initialized")
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics(ctx context.Context) error {
	if !d.config.Metrics.Enabled {
		d.log.Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(ctx); err != nil {
		d.metricsServer = nil
		return err
	}

	d.log.WithFields(map[string]interface{}{
		"addr": d.metricsServer.Addr(),
		"path": d.config.Metrics.Path,
	}).Info("metrics server started")
	return nil
}

// openDriver opens the configured driver and applies the filter and
// capture wrappers. The filter sits below the tap so captures only hold
// frames the stack saw.
func (d *Daemon) openDriver() error {
	mac := d.config.MAC()
	drv := d.drv
	if drv == nil {
		var err error
		if drv, err = driver.Open(d.config.Driver, mac); err != nil {
			return err
		}
	}
	d.drv = drv

	if d.config.Filter.Enabled {
		f, err := driver.NewFilter(d.drv, driver.HostFilter(mac))
		if err != nil {
			return err
		}
		d.drv = f
	}

	if d.config.Capture.Enabled {
		out, err := os.Create(d.config.Capture.Path)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		tap, err := driver.NewTap(d.drv, out, d.config.Capture.SnapLen)
		if err != nil {
			out.Close()
			return err
		}
		d.drv = tap
		d.log.WithField("path", d.config.Capture.Path).Info("capturing frames")
	}
	return nil
}

// dumpState logs the ARP cache and open TCP connections.
func (d *Daemon) dumpState() {
	d.stack.ARPEntries(func(ip core.IPv4, mac core.HardwareAddr, updated time.Time) bool {
		d.log.WithFields(map[string]interface{}{
			"ip":      ip.String(),
			"mac":     mac.String(),
			"updated": updated.Format(time.RFC3339),
		}).Info("arp entry")
		return true
	})
	d.stack.Connections(func(c *stack.Conn) bool {
		d.log.WithFields(map[string]interface{}{
			"conn":  c.String(),
			"state": c.State().String(),
		}).Info("tcp connection")
		return true
	})
}
