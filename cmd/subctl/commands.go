package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/submarine-control/internal/protocol"
	"github.com/chaz8081/submarine-control/internal/transport"
)

// withSession connects to the submarine, runs fn and disconnects.
func withSession(ctx context.Context, opts *rootOptions, fn func(*session) error) error {
	s, err := newSession(opts.cfg, transport.NewSystemAdapter())
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.connect(ctx, false); err != nil {
		return err
	}
	return fn(s)
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the submarine's status and battery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(s *session) error {
				if err := s.refreshStatus(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(s.sub))
				return nil
			})
		},
	}
}

func newDiveCommand(opts *rootOptions) *cobra.Command {
	var (
		depth  int
		offset int
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "dive",
		Short: "Schedule a dive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth <= 0 {
				return fmt.Errorf("--depth must be > 0, got %d", depth)
			}
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative, got %d", offset)
			}

			ctx := cmd.Context()
			return withSession(ctx, opts, func(s *session) error {
				if err := s.refreshStatus(ctx); err != nil {
					return err
				}
				if !s.sub.Dive(depth, offset) {
					return fmt.Errorf("dive not scheduled (status %s)", s.sub.Status())
				}
				dive, _ := s.sub.LastDive()
				fmt.Fprintf(cmd.OutOrStdout(), "Dive to %dm scheduled, starting %s\n",
					dive.DepthM, dive.StartingTime.Format(time.TimeOnly))

				if !wait {
					return nil
				}
				select {
				case <-time.After(time.Until(dive.StartingTime)):
				case <-ctx.Done():
					return ctx.Err()
				}
				s.sub.MarkDiving()
				fmt.Fprintf(cmd.OutOrStdout(), "Submarine is %s\n", s.sub.Status())
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 10, "target depth in metres")
	cmd.Flags().IntVar(&offset, "offset", 0, "seconds until the dive starts")
	cmd.Flags().BoolVar(&wait, "wait", false, "stay connected until the dive starts")
	return cmd
}

func newCancelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the scheduled dive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(s *session) error {
				if err := s.refreshStatus(cmd.Context()); err != nil {
					return err
				}
				if !s.sub.CancelDive() {
					return fmt.Errorf("nothing to cancel (status %s)", s.sub.Status())
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Dive cancelled")
				return nil
			})
		},
	}
}

func newDataCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "data",
		Short: "Fetch the data of the last dive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(s *session) error {
				if !s.sub.UpdateData() {
					return errors.New("data request not sent")
				}
				if _, err := s.await(cmd.Context(), protocol.MessageData); err != nil {
					return err
				}
				dive, _ := s.sub.LastDive()
				fmt.Fprintln(cmd.OutOrStdout(), renderDive(dive))
				return nil
			})
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every status and data report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be > 0")
			}
			s, err := newSession(opts.cfg, transport.NewSystemAdapter())
			if err != nil {
				return err
			}
			defer s.close()
			return watch(cmd.Context(), s, opts.cfg.AutoReconnect, interval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "status polling interval")
	return cmd
}

// watch prints reports until ctx is done. One goroutine prints, the other
// polls the status while connected.
func watch(ctx context.Context, s *session, reconnect bool, interval time.Duration, out io.Writer) error {
	err := s.connect(ctx, reconnect)
	switch {
	case err == nil:
		fmt.Fprintln(out, "connected")
	case !reconnect, errors.Is(err, errNotPaired), errors.Is(err, context.Canceled):
		return err
	default:
		slog.Warn("[SUB] not connected yet, retrying", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case online := <-s.online:
				if online {
					fmt.Fprintln(out, "connected")
				} else {
					fmt.Fprintln(out, "not connected")
					if !reconnect {
						return errOffline
					}
				}
			case msg := <-s.messages:
				switch msg.Type {
				case protocol.MessageStatus:
					fmt.Fprintln(out, renderStatus(s.sub))
				case protocol.MessageData:
					dive, _ := s.sub.LastDive()
					fmt.Fprintln(out, renderDive(dive))
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if s.sub.IsConnected() && !s.sub.UpdateStatus() {
				slog.Warn("[SUB] status poll failed")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}
