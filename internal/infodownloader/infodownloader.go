// Package infodownloader downloads the info dictionary from a peer
// over the ut_metadata extension (BEP 9) before a magnet download has
// any other way of learning the torrent's file layout.
package infodownloader

import (
	"fmt"
	"sort"

	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/peer"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// MaxMetadataSize caps how large an info dictionary we're willing to
// buffer for an unverified magnet download.
const MaxMetadataSize = 500 * 1024

// maxOutstandingRequests bounds how many ut_metadata piece requests we
// keep in flight to a single peer at once. BEP 9 expects this to stay
// small; unlike ordinary piece requests there's no window to grow,
// since an info dictionary is at most 32 16 KiB blocks (MaxMetadataSize).
const maxOutstandingRequests = 2

// InfoDownloader downloads all blocks of the info dictionary from a
// peer that advertised ut_metadata support.
type InfoDownloader struct {
	Peer  *peer.Peer
	Bytes []byte

	blocks    []block
	requested map[uint32]struct{}
}

type block struct {
	size     uint32
	received bool
	reqCount int
}

// New starts an info downloader against pe, whose extension handshake
// has already been received. It returns an error if the peer's
// advertised metadata size exceeds MaxMetadataSize.
func New(pe *peer.Peer) (*InfoDownloader, error) {
	size := pe.ExtensionHandshake.MetadataSize
	if size > MaxMetadataSize {
		return nil, fmt.Errorf("metadata size too large: %d", size)
	}
	d := &InfoDownloader{
		Peer:      pe,
		Bytes:     make([]byte, size),
		requested: make(map[uint32]struct{}),
	}
	d.blocks = d.createBlocks()
	return d, nil
}

func (d *InfoDownloader) GotBlock(index uint32, data []byte) error {
	if index >= uint32(len(d.blocks)) {
		return fmt.Errorf("peer sent out of range index for metadata message: %d", index)
	}
	if _, ok := d.requested[index]; !ok {
		return fmt.Errorf("peer sent unrequested index for metadata message: %d", index)
	}
	b := &d.blocks[index]
	if uint32(len(data)) != b.size {
		return fmt.Errorf("peer sent invalid size for metadata message: %d", len(data))
	}
	delete(d.requested, index)
	b.received = true
	begin := index * metainfo.DefaultBlockSize
	end := begin + b.size
	copy(d.Bytes[begin:end], data)
	return nil
}

func (d *InfoDownloader) createBlocks() []block {
	const blockSize = metainfo.DefaultBlockSize
	numBlocks := uint32(len(d.Bytes)) / blockSize
	mod := uint32(len(d.Bytes)) % blockSize
	if mod != 0 {
		numBlocks++
	}
	blocks := make([]block, numBlocks)
	for i := range blocks {
		blocks[i] = block{size: blockSize}
	}
	if mod != 0 && len(blocks) > 0 {
		blocks[len(blocks)-1].size = mod
	}
	return blocks
}

// RequestBlocks tops up the outstanding request queue, picking the
// least-requested missing block first rather than walking indices in
// order, so a peer that stalls or rejects one block doesn't wedge the
// rest behind it. queueLength is clamped to maxOutstandingRequests:
// ut_metadata has no equivalent of a growable piece-request window,
// since the whole info dictionary is only ever a handful of blocks.
func (d *InfoDownloader) RequestBlocks(queueLength int) {
	if queueLength <= 0 || queueLength > maxOutstandingRequests {
		queueLength = maxOutstandingRequests
	}
	metadataExtID, ok := d.Peer.ExtensionHandshake.M[peerprotocol.ExtensionNameMetadata]
	if !ok {
		return
	}
	slots := queueLength - len(d.requested)
	if slots <= 0 {
		return
	}
	var missing []uint32
	for i := range d.blocks {
		idx := uint32(i)
		if d.blocks[idx].received {
			continue
		}
		if _, ok := d.requested[idx]; ok {
			continue
		}
		missing = append(missing, idx)
	}
	sort.Slice(missing, func(i, j int) bool {
		a, b := missing[i], missing[j]
		if d.blocks[a].reqCount != d.blocks[b].reqCount {
			return d.blocks[a].reqCount < d.blocks[b].reqCount
		}
		return a < b
	})
	if len(missing) > slots {
		missing = missing[:slots]
	}
	for _, idx := range missing {
		msg := peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeRequest,
			Piece: idx,
		}
		payload, err := msg.MarshalBencode()
		if err != nil {
			continue
		}
		d.Peer.SendMessage(peerprotocol.ExtensionMessage{
			ExtendedMessageID: metadataExtID,
			Payload:           payload,
		})
		d.requested[idx] = struct{}{}
		d.blocks[idx].reqCount++
	}
}

// Done reports whether every metadata block has been received.
func (d *InfoDownloader) Done() bool {
	if len(d.requested) != 0 {
		return false
	}
	for i := range d.blocks {
		if !d.blocks[i].received {
			return false
		}
	}
	return true
}
