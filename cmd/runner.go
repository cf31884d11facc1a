package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/xuanhao44/net-lab-2023/internal/config"
	"github.com/xuanhao44/net-lab-2023/internal/daemon"
)

// Runner is the daemon surface the run commands drive.
type Runner interface {
	Start(ctx context.Context) error
	Run(ctx context.Context) error
}

var _ Runner = (*daemon.Daemon)(nil)

// newRunner builds the daemon for cfg; tests replace it.
var newRunner = func(cfg *config.Config) Runner {
	return daemon.New(cfg)
}

// runDaemon starts r and blocks until it stops.
func runDaemon(ctx context.Context, r Runner, w io.Writer) error {
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	fmt.Fprintln(w, "✓ xnet started")
	if err := r.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ xnet stopped")
	return nil
}
