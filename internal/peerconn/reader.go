// Package peerconn frames peer-wire messages on top of a net.Conn:
// one goroutine reads and decodes, one goroutine serializes and
// writes, so a slow peer can never block the other direction (spec.md
// §5 "outbound messages on one peer socket are serialised").
package peerconn

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// Piece bundles a received piece message with its block payload.
type Piece struct {
	peerprotocol.PieceMessage
	Data []byte
}

// Reader decodes incoming peer-wire messages from conn and publishes
// them on Messages(). Messages are processed in arrival order, never
// reordered (spec.md §5).
type Reader struct {
	conn          net.Conn
	log           logger.Logger
	fastExtension bool
	messages      chan interface{}
	pieceTimeout  time.Duration
}

// NewReader returns a Reader for conn.
func NewReader(conn net.Conn, l logger.Logger, fastExtension bool, pieceTimeout time.Duration) *Reader {
	return &Reader{
		conn:          conn,
		log:           l,
		fastExtension: fastExtension,
		messages:      make(chan interface{}),
		pieceTimeout:  pieceTimeout,
	}
}

// Messages returns the channel decoded messages are sent on. Values
// are one of the peerprotocol.*Message types, or Piece for message id
// Piece (7), which carries its block payload inline.
func (r *Reader) Messages() <-chan interface{} { return r.messages }

// Run reads until stopC closes or the connection errs/EOFs.
func (r *Reader) Run(stopC chan struct{}) {
	for {
		if r.pieceTimeout > 0 {
			r.conn.SetReadDeadline(time.Now().Add(r.pieceTimeout))
		}
		id, payload, keepAlive, err := peerprotocol.ReadMessage(r.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debugln("peer read error:", err)
			}
			return
		}
		if keepAlive {
			continue
		}
		msg, err := decode(id, payload)
		if err != nil {
			r.log.Debugln("invalid message from peer:", err)
			return
		}
		select {
		case r.messages <- msg:
		case <-stopC:
			return
		}
	}
}
