// Package session supervises validator links.
//
// One Supervisor owns one configured link for its whole lifetime. It
// establishes the connection (dialing out by default, or accepting on a
// listener), runs the transport handshake, then processes frames strictly
// sequentially: one request fully completes, including safety-state
// persistence, before the next frame is read. Links are isolated from
// each other; a provider blocked on one link never stalls another.
package session

import (
	"context"
	"crypto/ed25519"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/config"
	"github.com/Huginntech/tmkms/connection"
	"github.com/Huginntech/tmkms/metrics"
	"github.com/Huginntech/tmkms/signer"
	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wire"
)

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// ErrPeerMismatch is returned when the handshake succeeds but the peer's
// identity key does not match the pinned peer id.
var ErrPeerMismatch = errors.New("peer identity does not match configured peer id")

// Link is the resolved configuration of one validator connection.
type Link struct {
	Addr      *config.Addr
	ChainID   types.ChainID
	Version   types.ProtocolVersion
	Reconnect bool
	Listen    bool
	// Identity authenticates this side of secret connections. Unused for
	// plain links.
	Identity ed25519.PrivateKey
	Signer   *signer.Signer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Supervisor runs one link.
type Supervisor struct {
	link     Link
	logger   *zap.Logger
	metrics  *metrics.Metrics
	listener net.Listener
}

// New builds a Supervisor for one link.
func New(link Link) *Supervisor {
	logger := link.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := link.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Supervisor{
		link: link,
		logger: logger.With(
			zap.String("chain_id", link.ChainID.String()),
			zap.String("addr", link.Addr.Scheme+"://"+link.Addr.Host)),
		metrics: m,
	}
}

// Run serves the link until ctx is canceled or, for non-reconnecting
// links, until the first connection ends. Repeated reconnect attempts are
// reported, not treated as errors.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.closeListener()

	retry := backoffBase
	for {
		conn, err := s.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("connection attempt failed", zap.Error(err))
			if !s.link.Reconnect {
				return err
			}
			if err := s.wait(ctx, retry); err != nil {
				return err
			}
			retry = nextBackoff(retry)
			s.metrics.Reconnects.WithLabelValues(s.link.ChainID.String()).Inc()
			continue
		}
		retry = backoffBase

		s.metrics.ActiveConnections.WithLabelValues(s.link.ChainID.String()).Inc()
		s.logger.Info("validator link established")
		err = s.serve(ctx, conn)
		s.metrics.ActiveConnections.WithLabelValues(s.link.ChainID.String()).Dec()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("validator link closed", zap.Error(err))
		if !s.link.Reconnect {
			return err
		}
		if err := s.wait(ctx, retry); err != nil {
			return err
		}
		s.metrics.Reconnects.WithLabelValues(s.link.ChainID.String()).Inc()
	}
}

// establish produces one ready-to-serve connection: transport dialed or
// accepted, handshake done, peer pinned.
func (s *Supervisor) establish(ctx context.Context) (connection.Conn, error) {
	raw, err := s.rawConn(ctx)
	if err != nil {
		return nil, err
	}

	if s.link.Addr.Scheme == config.SchemeUnix {
		return connection.NewPlainConn(raw), nil
	}

	sc, err := connection.Secure(raw, s.link.Identity, s.link.Version)
	if err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "secret connection handshake")
	}
	if want := s.link.Addr.PeerID; want != "" {
		if got := connection.PeerID(sc.RemotePubKey()); got != want {
			sc.Close()
			return nil, errors.Wrapf(ErrPeerMismatch, "got %s, want %s", got, want)
		}
	}
	return sc, nil
}

func (s *Supervisor) rawConn(ctx context.Context) (net.Conn, error) {
	network := s.link.Addr.Scheme
	if s.link.Listen {
		if s.listener == nil {
			ln, err := new(net.ListenConfig).Listen(ctx, network, s.link.Addr.Host)
			if err != nil {
				return nil, errors.Wrap(err, "listen")
			}
			s.listener = ln
			// Canceling ctx must unblock Accept.
			go func() {
				<-ctx.Done()
				s.closeListener()
			}()
		}
		conn, err := s.listener.Accept()
		if err != nil {
			return nil, errors.Wrap(err, "accept")
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, s.link.Addr.Host)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	return conn, nil
}

// serve runs the frame loop on one connection. Framing and transport
// errors end the connection; decode errors are answered with a structured
// error response and the loop continues.
func (s *Supervisor) serve(ctx context.Context, conn connection.Conn) error {
	defer conn.Close()

	// Closing the socket is the cancellation mechanism: it unblocks any
	// in-progress read or write promptly. There is no mid-sign cancel; a
	// request that reached the provider runs to completion.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			return errors.Wrap(err, "read request frame")
		}

		var resp wire.Msg
		req, err := wire.Decode(s.link.Version, body)
		if err != nil {
			s.logger.Warn("undecodable request", zap.Error(err))
			resp = &wire.ErrorResponse{Error: &wire.RemoteSignerError{
				Code:        wire.CodeDecodeError,
				Description: err.Error(),
			}}
		} else {
			resp = s.link.Signer.Handle(req)
		}

		out, err := wire.Encode(s.link.Version, resp)
		if err != nil {
			return errors.Wrap(err, "encode response")
		}
		if err := wire.WriteFrame(conn, out); err != nil {
			return errors.Wrap(err, "write response frame")
		}
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Supervisor) closeListener() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}
