package relay

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultTCPListen is the relay's customary TCP port.
const DefaultTCPListen = ":4352"

// TCPServer accepts TCP clients and registers each with a Hub. Clients
// only receive; their read side is shut down.
type TCPServer struct {
	ln    net.Listener
	hub   *Hub
	queue int
	log   *logrus.Entry
	wg    sync.WaitGroup
}

// ListenTCP starts accepting on addr.
func ListenTCP(addr string, hub *Hub, queue int) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &TCPServer{
		ln:    ln,
		hub:   hub,
		queue: queue,
		log:   hub.log.WithField("listen", ln.Addr().String()),
	}
	s.wg.Add(1)
	go s.serve()
	s.log.Info("tcp relay listening")
	return s, nil
}

func (s *TCPServer) Addr() net.Addr { return s.ln.Addr() }

func (s *TCPServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.WithError(err).Error("tcp accept failed")
			}
			return
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.CloseRead()
		}
		s.hub.Add(NewStreamClient(c.RemoteAddr().String(), c, s.queue, s.hub.Fail))
	}
}

// Close stops accepting. Registered clients stay with the hub.
func (s *TCPServer) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
