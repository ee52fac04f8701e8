package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/submarine-control/internal/config"
	"github.com/chaz8081/submarine-control/internal/protocol"
	"github.com/chaz8081/submarine-control/internal/submarine"
	"github.com/chaz8081/submarine-control/internal/transport"
)

const (
	cliTag       = "subctl"
	replyTimeout = 10 * time.Second
)

var (
	errOffline   = errors.New("submarine went offline")
	errNotPaired = errors.New("submarine is not paired with this host")
)

// session is one connection to the submarine for the lifetime of a command.
type session struct {
	cfg       *config.Config
	transport *transport.BluetoothTransport
	sub       *submarine.Submarine

	messages chan *protocol.SubmarineMessage
	online   chan bool
}

func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		DeviceName:      cfg.Submarine.Name,
		ServiceUUID:     cfg.Bluetooth.ServiceUUID,
		FallbackChannel: cfg.Bluetooth.FallbackChannel,
		ConnectTimeout:  cfg.Bluetooth.ConnectTimeout,
		StatusDelay:     cfg.Bluetooth.StatusDelay,
		Discovery:       cfg.Bluetooth.Discovery,
		Codec:           protocol.ProtoCodec{},
	}
}

// newSession builds the transport and controller over adapter.
func newSession(cfg *config.Config, adapter transport.Adapter) (*session, error) {
	tr, err := transport.NewBluetoothTransport(adapter, transportOptions(cfg))
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		transport: tr,
		sub:       submarine.New(tr, submarine.WithName(cfg.Submarine.Name)),
		messages:  make(chan *protocol.SubmarineMessage, 16),
		online:    make(chan bool, 4),
	}
	s.sub.RegisterMessageReceiver(cliTag, transport.MessageReceiverFunc(func(msg *protocol.SubmarineMessage) {
		select {
		case s.messages <- msg:
		default:
			slog.Debug("[SUB] dropping message, reader is behind", "type", msg.Type)
		}
	}))
	s.sub.RegisterConnectionStatusReceiver(cliTag, transport.ConnectionStatusReceiverFunc(func(online bool) {
		select {
		case s.online <- online:
		default:
		}
	}))
	return s, nil
}

// connect starts connecting and waits for the first status report.
func (s *session) connect(ctx context.Context, reconnect bool) error {
	var started bool
	if reconnect {
		started = s.sub.ConnectWithReconnect()
	} else {
		started = s.sub.Connect()
	}
	if !started {
		return fmt.Errorf("%w: %q", errNotPaired, s.cfg.Submarine.Name)
	}

	// Service negotiation and the fallback can each take the full timeout.
	wait := 2*s.cfg.Bluetooth.ConnectTimeout + s.cfg.Bluetooth.StatusDelay + time.Second
	select {
	case online := <-s.online:
		if !online {
			return fmt.Errorf("connecting to %q: %w", s.cfg.Submarine.Name, transport.ErrConnectionBuildupFailed)
		}
		return nil
	case <-time.After(wait):
		return fmt.Errorf("connecting to %q: timed out after %s", s.cfg.Submarine.Name, wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await returns the next message of type typ.
func (s *session) await(ctx context.Context, typ protocol.MessageType) (*protocol.SubmarineMessage, error) {
	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-s.messages:
			if msg.Type == typ {
				return msg, nil
			}
		case online := <-s.online:
			if !online {
				return nil, errOffline
			}
		case <-timer.C:
			return nil, fmt.Errorf("no %s reply within %s", typ, replyTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// refreshStatus requests the status and waits for it to be applied.
func (s *session) refreshStatus(ctx context.Context) error {
	if !s.sub.UpdateStatus() {
		return errors.New("status request not sent")
	}
	_, err := s.await(ctx, protocol.MessageStatus)
	return err
}

func (s *session) close() {
	s.sub.Disconnect()
	s.transport.Close()
}
