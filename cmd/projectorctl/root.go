package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// options are the connection flags shared by every command.
type options struct {
	address string
	port    int
	unit    int
	serial  string
	baud    int
	timeout time.Duration
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "projectorctl",
		Short: "Optoma projector power control",
		Long: `projectorctl - query and switch an Optoma projector over its control port.

Connection modes:
  TCP:    --address 192.168.1.50 [--port 23]
  Serial: --serial /dev/ttyUSB0 [--baud 9600]

Every command opens its own session, waits for the link and closes it on exit.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.address, "address", "a", "", "Projector host name or IP")
	flags.IntVarP(&opts.port, "port", "p", projector.DefaultPort, "TCP control port")
	flags.IntVarP(&opts.unit, "unit", "u", projector.DefaultUnitID, "Projector unit id (1-99)")
	flags.StringVarP(&opts.serial, "serial", "s", "", "Serial device instead of TCP")
	flags.IntVarP(&opts.baud, "baud", "b", projector.DefaultBaudRate, "Baud rate (serial only)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 10*time.Second, "How long to wait for the projector")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log session activity to stderr")

	root.AddCommand(
		newStatusCmd(opts),
		newPowerCmd(opts, true),
		newPowerCmd(opts, false),
		newWatchCmd(opts),
	)
	return root
}

// openSession starts a session for the flags. setup, when non-nil, runs
// before Start so listeners see the first transition. The caller must
// Close the session.
func (o *options) openSession(cmd *cobra.Command, setup func(*projector.Session)) (*projector.Session, error) {
	if o.address == "" && o.serial == "" {
		return nil, errors.New("either --address or --serial is required")
	}

	cfg := projector.DefaultConfig()
	cfg.Address = o.address
	cfg.Port = o.port
	cfg.UnitID = o.unit
	cfg.ConnectionTimeout = o.timeout
	cfg.Verbosity = projector.VerbosityQuiet

	sessOpts := projector.Options{}
	if o.serial != "" {
		cfg.Address = o.serial
		sessOpts.Dialer = &projector.SerialDialer{Device: o.serial, BaudRate: o.baud}
	}
	if o.verbose {
		cfg.Verbosity = projector.VerbosityDebug
		sessOpts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	s, err := projector.New(cfg, sessOpts)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		setup(s)
	}
	s.Start()
	return s, nil
}

// waitReady blocks until the session is connected and has seen a status
// reply, or ctx expires.
func waitReady(ctx context.Context, s *projector.Session) (projector.PowerState, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if power, err := s.QueryPower(); err == nil && power != projector.PowerUnknown {
			return power, nil
		}
		select {
		case <-ctx.Done():
			if !s.IsConnected() {
				return projector.PowerUnknown, fmt.Errorf("%w: %s", projector.ErrNotConnected, s.ConnectionState())
			}
			return projector.PowerUnknown, errors.New("no status reply from projector")
		case <-ticker.C:
		}
	}
}

func (o *options) deadline(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}
