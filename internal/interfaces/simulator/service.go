// Package simulator implements a signing device reachable over TCP that
// answers the structured requests of the reference device, signing with
// locally held keys.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer/dummysigner"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"golang.org/x/sync/errgroup"
)

type service struct {
	config   ServiceConfig
	handler  *handler
	listener net.Listener
	group    *errgroup.Group
	stopFn   context.CancelFunc

	conns    map[net.Conn]struct{}
	connLock *sync.Mutex

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewService(config ServiceConfig) (*service, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("simulator: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("simulator: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	return &service{
		config:   config,
		handler:  &handler{config},
		conns:    make(map[net.Conn]struct{}),
		connLock: &sync.Mutex{},
		log:      logFn,
		warn:     warnFn,
	}, nil
}

func (s *service) Start() error {
	listener, err := net.Listen("tcp", s.config.address())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s.listener = listener
	s.group = group
	s.stopFn = cancel

	group.Go(func() error {
		return s.acceptConnections(ctx)
	})

	log.Infof("simulator: start listening on %s", listener.Addr())
	if s.config.NoBatch {
		log.Info("simulator: batch requests disabled")
	}
	return nil
}

func (s *service) Stop() {
	if s.stopFn == nil {
		return
	}
	s.stopFn()
	s.listener.Close()

	s.connLock.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connLock.Unlock()

	if err := s.group.Wait(); err != nil {
		s.warn(err, "error while stopping")
	}
	log.Info("simulator: shutdown")
}

// Addr returns the address the simulator is listening on.
func (s *service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *service) acceptConnections(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.trackConn(conn, true)
		if ctx.Err() != nil {
			conn.Close()
		}
		s.log("accepted connection from %s", conn.RemoteAddr())

		s.group.Go(func() error {
			defer s.trackConn(conn, false)
			s.serveConn(conn)
			return nil
		})
	}
}

// serveConn answers the requests received over the connection, one at a
// time, until it's closed.
func (s *service) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		var req dummysigner.Request
		if err := framing.ReadMessage(conn, &req); err != nil {
			if !framing.IsTransportError(err) {
				s.warn(err, "dropping connection with %s", conn.RemoteAddr())
			}
			return
		}

		resp := s.handler.handle(req)
		if len(resp.Error) > 0 {
			s.log("answering with error: %s", resp.Error)
		}

		if err := framing.WriteMessage(conn, resp); err != nil {
			s.warn(err, "failed to answer to %s", conn.RemoteAddr())
			return
		}
	}
}

func (s *service) trackConn(conn net.Conn, add bool) {
	s.connLock.Lock()
	defer s.connLock.Unlock()

	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}
