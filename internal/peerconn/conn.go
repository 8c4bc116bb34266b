package peerconn

import (
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// Conn is a framed, full-duplex connection to a single peer. It owns
// the underlying net.Conn and runs its own reader/writer goroutines,
// matching the teacher's per-peer Run pattern: whichever of read,
// write, or an external close comes first tears down the other two.
type Conn struct {
	conn          net.Conn
	id            [20]byte
	FastExtension bool
	Extended      bool
	V2            bool
	reader        *Reader
	writer        *Writer
	log           logger.Logger
	closeC        chan struct{}
	closedC       chan struct{}
}

// New wraps conn as a peer Conn. caps is the remote's parsed
// handshake capabilities.
func New(conn net.Conn, id [20]byte, caps peerprotocol.Capabilities, l logger.Logger, pieceTimeout, keepAlive time.Duration) *Conn {
	return &Conn{
		conn:          conn,
		id:            id,
		FastExtension: caps.Fast,
		Extended:      caps.Extended,
		V2:            caps.V2,
		reader:        NewReader(conn, l, caps.Fast, pieceTimeout),
		writer:        NewWriter(conn, l, keepAlive),
		log:           l,
		closeC:        make(chan struct{}),
		closedC:       make(chan struct{}),
	}
}

func (c *Conn) ID() [20]byte          { return c.id }
func (c *Conn) Addr() net.Addr        { return c.conn.RemoteAddr() }
func (c *Conn) IP() string            { return c.conn.RemoteAddr().String() }
func (c *Conn) Logger() logger.Logger { return c.log }

// Messages returns the channel of decoded incoming messages.
func (c *Conn) Messages() <-chan interface{} { return c.reader.Messages() }

// SendMessage enqueues an outgoing message.
func (c *Conn) SendMessage(msg peerprotocol.Message) { c.writer.SendMessage(msg) }

// SendPiece enqueues an outgoing piece transfer.
func (c *Conn) SendPiece(p PieceData) { c.writer.SendPiece(p) }

// Close tears down the connection and waits for both goroutines to
// exit.
func (c *Conn) Close() {
	select {
	case <-c.closeC:
	default:
		close(c.closeC)
	}
	<-c.closedC
}

// Run starts the reader and writer goroutines and blocks until the
// connection closes, by any cause.
func (c *Conn) Run() {
	defer close(c.closedC)

	readerDone := make(chan struct{})
	go func() {
		c.reader.Run(c.closeC)
		close(readerDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		c.writer.Run(c.closeC)
		close(writerDone)
	}()

	select {
	case <-c.closeC:
		c.conn.Close()
		<-readerDone
		<-writerDone
	case <-readerDone:
		c.conn.Close()
		<-writerDone
	case <-writerDone:
		c.conn.Close()
		<-readerDone
	}
}
