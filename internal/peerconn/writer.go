package peerconn

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// PieceData is an outgoing piece transfer: the block header plus the
// raw bytes read from the disk cache.
type PieceData struct {
	Index, Begin uint32
	Data         []byte
}

type outgoing struct {
	msg   peerprotocol.Message
	piece *PieceData
}

// Writer serializes outgoing messages on conn, one at a time, so a
// slow peer's socket buffer never reorders our messages.
type Writer struct {
	conn     net.Conn
	log      logger.Logger
	queue    chan outgoing
	keepAlive time.Duration
}

// NewWriter returns a Writer for conn.
func NewWriter(conn net.Conn, l logger.Logger, keepAlive time.Duration) *Writer {
	return &Writer{
		conn:      conn,
		log:       l,
		queue:     make(chan outgoing, 256),
		keepAlive: keepAlive,
	}
}

// SendMessage enqueues msg for serialization. It never blocks the
// caller beyond the queue's buffer.
func (w *Writer) SendMessage(msg peerprotocol.Message) {
	w.queue <- outgoing{msg: msg}
}

// SendPiece enqueues a piece transfer. The header and the data are
// written as a single peer-wire `piece` message.
func (w *Writer) SendPiece(p PieceData) {
	w.queue <- outgoing{piece: &p}
}

// Run drains the queue until stopC closes.
func (w *Writer) Run(stopC chan struct{}) {
	var tickerC <-chan time.Time
	if w.keepAlive > 0 {
		t := time.NewTicker(w.keepAlive)
		defer t.Stop()
		tickerC = t.C
	}
	for {
		select {
		case out := <-w.queue:
			if out.piece != nil {
				if err := w.writePiece(out.piece); err != nil {
					w.log.Debugln("peer write error:", err)
					return
				}
				continue
			}
			if err := peerprotocol.WriteMessage(w.conn, out.msg); err != nil {
				w.log.Debugln("peer write error:", err)
				return
			}
		case <-tickerC:
			if err := peerprotocol.WriteKeepAlive(w.conn); err != nil {
				return
			}
		case <-stopC:
			return
		}
	}
}

func (w *Writer) writePiece(p *PieceData) error {
	buf := make([]byte, 4+1+8+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+8+len(p.Data)))
	buf[4] = byte(peerprotocol.Piece)
	binary.BigEndian.PutUint32(buf[5:9], p.Index)
	binary.BigEndian.PutUint32(buf[9:13], p.Begin)
	copy(buf[13:], p.Data)
	_, err := w.conn.Write(buf)
	return err
}
