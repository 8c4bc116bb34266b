// Package piecepicker selects which piece to request next from which
// peer: rarest-first by default, sequential when configured, with
// end-game duplication once only a few pieces remain. File and piece
// priorities are not consulted.
package piecepicker

import (
	"math/rand"

	"github.com/anacrolix/missinggo/v2/bitmap"
	"github.com/anacrolix/missinggo/v2/prioritybitmap"

	"github.com/dragwire/torrentcore/internal/bitfield"
	"github.com/dragwire/torrentcore/internal/peer"
	"github.com/dragwire/torrentcore/internal/piece"
)

// PiecePicker tracks, per piece, which connected peers have it and
// picks the next piece/peer pair to download from.
type PiecePicker struct {
	pieces   []piece.Piece
	our      *bitfield.Bitfield
	sequential bool

	// haves[i] is the set of peers known to have piece i.
	haves map[uint32]map[*peer.Peer]struct{}

	// rarity holds, for every not-yet-downloaded piece, the count of
	// peers known to have it, ordered ascending so the rarest pieces
	// sort first. Zero value is a usable empty bitmap.
	rarity prioritybitmap.PriorityBitmap

	// downloading marks pieces with an active PieceDownloader, to
	// avoid two non-end-game downloads of the same piece.
	downloading bitmap.Bitmap

	endgame      bool
	endgameAfter int // switch to end-game when fewer than this many pieces remain
}

// New builds a picker for the given pieces, already-owned bitfield,
// and sequential-download flag.
func New(pieces []piece.Piece, our *bitfield.Bitfield, sequential bool) *PiecePicker {
	pp := &PiecePicker{
		pieces:       pieces,
		our:          our,
		sequential:   sequential,
		haves:        make(map[uint32]map[*peer.Peer]struct{}),
		endgameAfter: 16,
	}
	for i := range pieces {
		if !our.Test(uint32(i)) {
			pp.rarity.Set(i, 0)
		}
	}
	return pp
}

// HandleHave records that pe has piece index.
func (pp *PiecePicker) HandleHave(pe *peer.Peer, index uint32) {
	m, ok := pp.haves[index]
	if !ok {
		m = make(map[*peer.Peer]struct{})
		pp.haves[index] = m
	}
	if _, ok := m[pe]; ok {
		return
	}
	m[pe] = struct{}{}
	if !pp.our.Test(index) {
		pp.rarity.Set(int(index), len(m))
	}
}

// DoesHave reports whether pe is known to have piece index.
func (pp *PiecePicker) DoesHave(pe *peer.Peer, index uint32) bool {
	_, ok := pp.haves[index][pe]
	return ok
}

// HandleDisconnect drops every have record for pe and recomputes
// rarity for the pieces it affected.
func (pp *PiecePicker) HandleDisconnect(pe *peer.Peer) {
	for index, m := range pp.haves {
		if _, ok := m[pe]; ok {
			delete(m, pe)
			if !pp.our.Test(index) {
				pp.rarity.Set(int(index), len(m))
			}
		}
	}
}

// HandleSnubbed marks index as no longer actively downloading from
// the snubbed peer, making it eligible for another peer to pick up.
func (pp *PiecePicker) HandleSnubbed(pe *peer.Peer, index uint32) {
	pp.downloading.Remove(int(index))
}

// HandleCancelDownload releases index so another peer may pick it up.
func (pp *PiecePicker) HandleCancelDownload(pe *peer.Peer, index uint32) {
	pp.downloading.Remove(int(index))
}

// PickFor returns the index of a piece pe has, we don't, and that
// isn't already downloading (unless end-game is active), or (0,
// false) if pe has nothing useful right now.
func (pp *PiecePicker) PickFor(pe *peer.Peer) (uint32, bool) {
	pp.maybeEnterEndgame()

	if pp.sequential {
		for i := range pp.pieces {
			if pp.wantFrom(pe, uint32(i)) {
				return uint32(i), true
			}
		}
		return 0, false
	}

	var found uint32
	var ok bool
	pp.rarity.IterTyped(func(i int) bool {
		if pp.wantFrom(pe, uint32(i)) {
			found = uint32(i)
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

func (pp *PiecePicker) wantFrom(pe *peer.Peer, index uint32) bool {
	if pp.our.Test(index) {
		return false
	}
	if !pp.DoesHave(pe, index) {
		return false
	}
	if !pp.endgame && pp.downloading.Contains(int(index)) {
		return false
	}
	return true
}

// StartDownload marks index as actively downloading.
func (pp *PiecePicker) StartDownload(index uint32) {
	pp.downloading.Add(int(index))
}

func (pp *PiecePicker) maybeEnterEndgame() {
	if pp.endgame {
		return
	}
	remaining := 0
	for i := range pp.pieces {
		if !pp.our.Test(uint32(i)) {
			remaining++
		}
	}
	if remaining > 0 && remaining <= pp.endgameAfter {
		pp.endgame = true
	}
}

// RandomPeerWith returns a random entry from candidates, used by the
// optimistic-unchoke / PEX plumbing elsewhere; kept here since the
// picker already owns the per-piece peer sets.
func RandomPeerWith(candidates []*peer.Peer) *peer.Peer {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}
