// Package piecedownloader drives the block-by-block download of a
// single piece from a single peer: it keeps a bounded request queue
// in flight, tracks which blocks have arrived, and reports completion,
// rejection or peer-side choke/unchoke back to the torrent loop.
package piecedownloader

import (
	"github.com/dragwire/torrentcore/internal/peer"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
	"github.com/dragwire/torrentcore/internal/piece"
)

// maxQueuedBlocks bounds how many block requests we keep outstanding
// to a single peer for a single piece.
const maxQueuedBlocks = 10

type blockState int

const (
	blockPending blockState = iota
	blockRequested
	blockReceived
)

// PieceDownloader downloads one piece's blocks from one peer.
type PieceDownloader struct {
	Peer  *peer.Peer
	Piece *piece.Piece

	Bytes []byte

	states   []blockState
	requested int
	next      int
}

// New starts a downloader for piece from pe. buf must be at least
// piece.Length bytes.
func New(pe *peer.Peer, pc *piece.Piece, buf []byte) *PieceDownloader {
	return &PieceDownloader{
		Peer:   pe,
		Piece:  pc,
		Bytes:  buf,
		states: make([]blockState, len(pc.Blocks)),
	}
}

// RequestBlocks sends out enough REQUEST messages to keep the
// outstanding queue filled to maxQueuedBlocks.
func (d *PieceDownloader) RequestBlocks(queueLength int) {
	if queueLength <= 0 || queueLength > maxQueuedBlocks {
		queueLength = maxQueuedBlocks
	}
	for d.next < len(d.states) && d.requested < queueLength {
		if d.states[d.next] == blockPending {
			b := d.Piece.Blocks[d.next]
			msg := peerprotocol.RequestMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length}
			d.Peer.SendMessage(msg)
			d.Peer.AddRequest(peer.Request{Index: b.Index, Begin: b.Begin, Length: b.Length})
			d.states[d.next] = blockRequested
			d.requested++
		}
		d.next++
	}
}

// GotBlock records data received for the block starting at begin.
func (d *PieceDownloader) GotBlock(begin uint32, data []byte) {
	b := d.Piece.GetBlock(begin)
	if b == nil {
		return
	}
	if d.states[b.Index] != blockRequested {
		return
	}
	copy(d.Bytes[b.Begin:b.Begin+b.Length], data)
	d.states[b.Index] = blockReceived
	d.requested--
	d.Peer.RemoveRequest(peer.Request{Index: b.Index, Begin: b.Begin, Length: b.Length})
}

// Rejected reverts a rejected block to pending so it can be requested
// again, from this or another peer.
func (d *PieceDownloader) Rejected(begin uint32) {
	b := d.Piece.GetBlock(begin)
	if b == nil {
		return
	}
	if d.states[b.Index] == blockRequested {
		d.requested--
	}
	d.states[b.Index] = blockPending
	d.next = 0
}

// CancelPending sends CANCEL for every block still outstanding, used
// when the download is abandoned (peer disconnect, piece completed by
// another peer in end-game).
func (d *PieceDownloader) CancelPending() {
	for i, s := range d.states {
		if s == blockRequested {
			b := d.Piece.Blocks[i]
			d.Peer.SendMessage(peerprotocol.CancelMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length})
			d.Peer.RemoveRequest(peer.Request{Index: b.Index, Begin: b.Begin, Length: b.Length})
		}
	}
}

// Done reports whether every block has arrived.
func (d *PieceDownloader) Done() bool {
	for _, s := range d.states {
		if s != blockReceived {
			return false
		}
	}
	return true
}
