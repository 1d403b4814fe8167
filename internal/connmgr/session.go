package connmgr

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
	"bluebridge/internal/rfcomm"
)

type origin int

const (
	originNone origin = iota
	originOutbound
	originAccepted
)

func (o origin) String() string {
	switch o {
	case originOutbound:
		return "outbound"
	case originAccepted:
		return "accepted"
	}
	return "none"
}

// Session owns one connection slot and one listener slot.
type Session struct {
	net rfcomm.Network
	log *logrus.Entry

	mu       sync.Mutex
	conn     rfcomm.Conn
	origin   origin
	listener rfcomm.Listener

	// serializes writers so concurrent lines never interleave
	wmu sync.Mutex
}

var _ Transport = (*Session)(nil)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger entry; the session adds its component field.
func WithLogger(e *logrus.Entry) Option {
	return func(s *Session) {
		if e != nil {
			s.log = e
		}
	}
}

// New creates a closed session. A nil network selects kernel sockets.
func New(network rfcomm.Network, opts ...Option) *Session {
	if network == nil {
		network = rfcomm.Sockets{}
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := &Session{net: network, log: logrus.NewEntry(l)}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "connmgr")
	return s
}

func (s *Session) Open(ctx context.Context, address string) error {
	addr, err := btaddr.Parse(address)
	if err != nil {
		return bterr.E(bterr.InvalidAddress, "open", err)
	}
	return s.OpenAddr(ctx, addr)
}

// OpenAddr is Open with an already parsed address.
func (s *Session) OpenAddr(ctx context.Context, addr btaddr.Address) error {
	s.closeConn("replaced")

	log := s.log.WithField("peer", addr)
	log.Debug("connecting")
	c, err := s.net.Dial(ctx, addr, btaddr.Channel)
	if err != nil {
		log.WithError(err).Warn("connect failed")
		return bterr.E(bterr.ConnectFailed, "open", err)
	}
	s.install(c, originOutbound)
	log.Info("connected")
	return nil
}

func (s *Session) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	l, err := s.net.Listen(btaddr.Channel, Backlog)
	if err != nil {
		s.log.WithError(err).Warn("listen failed")
		if k := bterr.KindOf(err); k == bterr.BindFailed || k == bterr.ListenFailed {
			return err
		}
		return bterr.E(bterr.ListenFailed, "listen", err)
	}
	s.listener = l
	s.log.WithField("channel", btaddr.Channel).Info("listening")
	return nil
}

func (s *Session) Accept(ctx context.Context) (btaddr.Address, error) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return btaddr.Address{}, bterr.E(bterr.NotListening, "accept", nil)
	}
	s.closeConn("accepting")

	c, err := l.Accept(ctx)
	if err != nil {
		if bterr.Canceled(err) {
			s.log.WithError(err).Debug("accept cancelled")
			return btaddr.Address{}, bterr.E(bterr.Cancelled, "accept", err)
		}
		s.log.WithError(err).Warn("accept failed")
		return btaddr.Address{}, bterr.E(bterr.AcceptFailed, "accept", err)
	}
	peer := c.RemoteAddr()
	s.install(c, originAccepted)
	s.log.WithField("peer", peer).Info("accepted")
	return peer, nil
}

func (s *Session) Send(line []byte) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return bterr.E(bterr.NotConnected, "send", nil)
	}

	s.wmu.Lock()
	_, err := c.Write(line)
	s.wmu.Unlock()
	if err != nil {
		s.log.WithError(err).Warn("send failed")
		return bterr.E(bterr.SendFailed, "send", err)
	}
	return nil
}

// SendString is Send for text lines.
func (s *Session) SendString(line string) error { return s.Send([]byte(line)) }

func (s *Session) Close() error {
	s.closeConn("closed")
	return nil
}

func (s *Session) CloseListener() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l != nil {
		l.Close()
		s.log.Info("listener closed")
	}
	return nil
}

// Shutdown closes both slots.
func (s *Session) Shutdown() {
	s.CloseListener()
	s.Close()
}

// Connected reports whether a connection is active.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Listening reports whether a listener is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// RemoteAddr returns the peer of the active connection.
func (s *Session) RemoteAddr() (btaddr.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return btaddr.Address{}, false
	}
	return s.conn.RemoteAddr(), true
}

// install makes c the active connection; whatever held the slot in the
// meantime is closed.
func (s *Session) install(c rfcomm.Conn, o origin) {
	s.mu.Lock()
	old, oldOrigin := s.conn, s.origin
	s.conn, s.origin = c, o
	s.mu.Unlock()
	if old != nil {
		old.Close()
		s.log.WithFields(logrus.Fields{"peer": old.RemoteAddr(), "origin": oldOrigin}).Debug("connection replaced")
	}
}

func (s *Session) closeConn(reason string) {
	s.mu.Lock()
	c, o := s.conn, s.origin
	s.conn, s.origin = nil, originNone
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.Close()
	s.log.WithFields(logrus.Fields{"peer": c.RemoteAddr(), "origin": o, "reason": reason}).Info("connection closed")
}
