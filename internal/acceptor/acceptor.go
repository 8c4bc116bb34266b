// Package acceptor listens for incoming peer-wire TCP connections and
// hands each accepted net.Conn off to a channel, so the session's
// event loop never blocks inside accept(2).
package acceptor

import (
	"net"

	"github.com/dragwire/torrentcore/internal/logger"
)

// Acceptor owns one listening socket.
type Acceptor struct {
	listener net.Listener
	log      logger.Logger
	connC    chan net.Conn
	closeC   chan struct{}
}

// New starts listening on addr (e.g. ":6881") and returns an Acceptor
// whose Run loop must be started by the caller.
func New(addr string, l logger.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		listener: ln,
		log:      l,
		connC:    make(chan net.Conn),
		closeC:   make(chan struct{}),
	}, nil
}

// Addr returns the bound local address, including the actual port
// when addr was given with port 0.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Conns returns the channel accepted connections are delivered on.
func (a *Acceptor) Conns() <-chan net.Conn { return a.connC }

// Run accepts connections until Close is called.
func (a *Acceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
				return
			default:
				a.log.Debugln("accept error:", err)
				return
			}
		}
		select {
		case a.connC <- conn:
		case <-a.closeC:
			conn.Close()
			return
		}
	}
}

// Close stops accepting new connections.
func (a *Acceptor) Close() {
	select {
	case <-a.closeC:
	default:
		close(a.closeC)
	}
	a.listener.Close()
}
