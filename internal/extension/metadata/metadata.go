// Package metadata implements the server side of the ut_metadata
// extension (BEP 9): serving pieces of our own info dictionary to
// peers that don't have it yet, with a per-peer backoff for peers we
// have nothing to offer.
package metadata

import (
	"crypto/sha1"
	"sync"
	"time"

	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// backoff is how long ShouldBackoff keeps reporting true after we told
// a peer "reject" because we don't have metadata yet. HandleRequest
// itself answers every request regardless.
const backoff = time.Minute

// Server answers ut_metadata requests once the local info dictionary
// is known. It refuses to serve metadata for private torrents, since
// those must only be learned from the tracker / the torrent file.
type Server struct {
	mu      sync.Mutex
	info    *metainfo.Info
	private bool

	lastReject map[interface{}]time.Time
}

// NewServer returns a Server with no info dictionary yet; SetInfo is
// called once the local torrent has learned it.
func NewServer() *Server {
	return &Server{lastReject: make(map[interface{}]time.Time)}
}

// SetInfo makes info available for serving, unless it's private.
func (s *Server) SetInfo(info *metainfo.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.private = info.Private == 1
}

// ShouldBackoff reports whether the last "we have nothing" reject that
// HandleRequest sent to peerID is still within the backoff window.
func (s *Server) ShouldBackoff(peerID interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastReject[peerID]
	return ok && time.Since(t) < backoff
}

// HandleRequest answers a received ut_metadata request message,
// returning the extension payload to send back (a Data message with
// the requested piece appended, or a Reject message).
func (s *Server) HandleRequest(peerID interface{}, req *peerprotocol.ExtensionMetadataMessage) ([]byte, error) {
	s.mu.Lock()
	info := s.info
	private := s.private
	s.mu.Unlock()

	if info == nil || private {
		s.mu.Lock()
		s.lastReject[peerID] = time.Now()
		s.mu.Unlock()
		reject := peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
			Piece: req.Piece,
		}
		return reject.MarshalBencode()
	}

	const blockSize = metainfo.DefaultBlockSize
	begin := req.Piece * blockSize
	if begin >= uint32(len(info.Bytes)) {
		reject := peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
			Piece: req.Piece,
		}
		return reject.MarshalBencode()
	}
	end := begin + blockSize
	if end > uint32(len(info.Bytes)) {
		end = uint32(len(info.Bytes))
	}

	data := peerprotocol.ExtensionMetadataMessage{
		Type:      peerprotocol.ExtensionMetadataMessageTypeData,
		Piece:     req.Piece,
		TotalSize: uint32(len(info.Bytes)),
	}
	head, err := data.MarshalBencode()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(head)+int(end-begin))
	copy(payload, head)
	copy(payload[len(head):], info.Bytes[begin:end])
	return payload, nil
}

// VerifyInfo checks raw metadata bytes against infoHash, per BEP 9's
// requirement that assembled metadata is never trusted until hashed.
func VerifyInfo(raw []byte, infoHash [20]byte) bool {
	sum := sha1.Sum(raw)
	return sum == infoHash
}
