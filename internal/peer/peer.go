// Package peer implements the high-level per-peer state machine: choke/
// interest bookkeeping, request accounting, extension message dispatch,
// and the byte counters the session's unchoke algorithm reads. It sits
// above internal/peerconn, which only knows about wire framing.
package peer

import (
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/peerconn"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// Request identifies one in-flight block request sent to this peer.
type Request struct {
	Index, Begin, Length uint32
}

// PieceMessage carries a received block payload together with the
// peer it arrived from, the shape the torrent's piece message channel
// is keyed on.
type PieceMessage struct {
	Peer  *Peer
	Piece peerconn.Piece
}

// Message carries any non-piece wire message together with the peer
// it arrived from.
type Message struct {
	Peer    *Peer
	Message interface{}
}

// PEXer is the subset of the PEX extension state a peer carries,
// kept as an interface here to avoid an import cycle with
// internal/extension/pex-like handlers.
type PEXer interface {
	Add(addr *net.TCPAddr)
	Drop(addr *net.TCPAddr)
}

// Peer is the session's view of one connected remote peer.
type Peer struct {
	Conn *peerconn.Conn

	FastExtension bool
	ExtensionsV   bool

	// Choke/interest state, per BEP 3.
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	// OptimisticUnchoked is true while the unchoke algorithm is giving
	// this peer a free unchoke slot regardless of its transfer rate.
	OptimisticUnchoked bool

	// Snubbed is true once this peer hasn't sent a requested block
	// within the request timeout; it is excluded from piece picking
	// until it sends data again.
	Snubbed     bool
	Downloading bool

	// ExtensionHandshake is the peer's BEP 10 handshake, nil until
	// received.
	ExtensionHandshake *peerprotocol.ExtensionHandshake

	PEX PEXer

	BytesDownloadedInChokePeriod int64
	BytesUploadedInChokePeriod   int64

	requestTimeout  time.Duration
	requests        map[Request]time.Time
	Messages        []interface{} // queued while metadata is unknown
}

// New wraps a connected peerconn.Conn in session-level state.
func New(conn *peerconn.Conn, requestTimeout time.Duration) *Peer {
	return &Peer{
		Conn:           conn,
		AmChoking:      true,
		PeerChoking:    true,
		requestTimeout: requestTimeout,
		requests:       make(map[Request]time.Time),
	}
}

func (p *Peer) ID() [20]byte    { return p.Conn.ID() }
func (p *Peer) Addr() *net.TCPAddr {
	if a, ok := p.Conn.Addr().(*net.TCPAddr); ok {
		return a
	}
	return nil
}
func (p *Peer) SendMessage(msg peerprotocol.Message) { p.Conn.SendMessage(msg) }
func (p *Peer) SendPiece(index, begin uint32, data []byte) {
	p.Conn.SendPiece(peerconn.PieceData{Index: index, Begin: begin, Data: data})
}
func (p *Peer) Close() { p.Conn.Close() }

// AddRequest records a block request sent to this peer so the session
// can detect a snub (no data within requestTimeout).
func (p *Peer) AddRequest(r Request) {
	p.requests[r] = time.Now()
}

// RemoveRequest drops a request once its data (or a reject) arrives.
func (p *Peer) RemoveRequest(r Request) {
	delete(p.requests, r)
}

// RequestCount returns the number of requests currently outstanding.
func (p *Peer) RequestCount() int { return len(p.requests) }

// HasRequest reports whether r is currently outstanding.
func (p *Peer) HasRequest(r Request) bool {
	_, ok := p.requests[r]
	return ok
}

// Run relays every message the underlying connection produces onto
// messages or pieceMessages as appropriate, and notifies snubbedC/
// disconnectedC as those conditions occur. It returns when the
// connection closes.
func (p *Peer) Run(messages chan Message, pieceMessages chan PieceMessage, snubbedC chan *Peer, disconnectedC chan *Peer) {
	go p.Conn.Run()
	defer func() { disconnectedC <- p }()

	var snubTimer *time.Timer
	var snubTimerC <-chan time.Time
	if p.requestTimeout > 0 {
		snubTimer = time.NewTimer(p.requestTimeout)
		snubTimerC = snubTimer.C
		defer snubTimer.Stop()
	}

	for {
		select {
		case msg, ok := <-p.Conn.Messages():
			if !ok {
				return
			}
			if pm, ok := msg.(peerconn.Piece); ok {
				p.RemoveRequest(Request{Index: pm.Index, Begin: pm.Begin, Length: uint32(len(pm.Data))})
				if snubTimer != nil {
					snubTimer.Reset(p.requestTimeout)
				}
				pieceMessages <- PieceMessage{Peer: p, Piece: pm}
				continue
			}
			messages <- Message{Peer: p, Message: msg}
		case <-snubTimerC:
			if len(p.requests) > 0 {
				snubbedC <- p
			}
			snubTimer.Reset(p.requestTimeout)
		}
	}
}
