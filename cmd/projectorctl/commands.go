package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the projector's power state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openSession(cmd, nil)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // exiting

			ctx, cancel := opts.deadline(cmd)
			defer cancel()

			power, err := waitReady(ctx, s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), power)
			return nil
		},
	}
}

func newPowerCmd(opts *options, on bool) *cobra.Command {
	name := projector.PowerStateFromBool(on).String()
	return &cobra.Command{
		Use:   name,
		Short: "Switch the projector " + name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openSession(cmd, nil)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // exiting

			ctx, cancel := opts.deadline(cmd)
			defer cancel()

			if _, err := waitReady(ctx, s); err != nil {
				return err
			}

			start := time.Now()
			if err := s.SetPower(ctx, on); err != nil {
				return fmt.Errorf("power %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (acknowledged in %s)\n", name, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print power and link changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events := make(chan string, 16)
			emit := func(line string) {
				select {
				case events <- time.Now().Format("15:04:05.000") + " " + line:
				default:
				}
			}
			s, err := opts.openSession(cmd, func(s *projector.Session) {
				s.OnConnectionChanged(func(c projector.ConnectionState) { emit("link  " + string(c)) })
				s.OnStateChanged(func(p projector.PowerState) { emit("power " + p.String()) })
			})
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // exiting

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line := <-events:
					fmt.Fprintln(out, line)
				}
			}
		},
	}
}
