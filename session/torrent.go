package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dragwire/torrentcore/internal/acceptor"
	"github.com/dragwire/torrentcore/internal/addrlist"
	"github.com/dragwire/torrentcore/internal/alert"
	"github.com/dragwire/torrentcore/internal/allocator"
	"github.com/dragwire/torrentcore/internal/announce"
	"github.com/dragwire/torrentcore/internal/bitfield"
	"github.com/dragwire/torrentcore/internal/blocklist"
	"github.com/dragwire/torrentcore/internal/diskcache"
	"github.com/dragwire/torrentcore/internal/extension/metadata"
	"github.com/dragwire/torrentcore/internal/extension/tex"
	"github.com/dragwire/torrentcore/internal/handshaker"
	"github.com/dragwire/torrentcore/internal/infodownloader"
	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/peer"
	"github.com/dragwire/torrentcore/internal/piece"
	"github.com/dragwire/torrentcore/internal/piecedownloader"
	"github.com/dragwire/torrentcore/internal/piecepicker"
	"github.com/dragwire/torrentcore/internal/resumer"
	"github.com/dragwire/torrentcore/internal/smartban"
	"github.com/dragwire/torrentcore/internal/storage"
	"github.com/dragwire/torrentcore/internal/verifier"
)

// State is one point in the torrent lifecycle (spec.md §4.2 "State
// machine").
type State int

const (
	StateCheckingResumeData State = iota
	StateAllocating
	StateDownloadingMetadata
	StateCheckingFiles
	StateDownloading
	StateSeeding
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCheckingResumeData:
		return "checking_resume_data"
	case StateAllocating:
		return "allocating"
	case StateDownloadingMetadata:
		return "downloading_metadata"
	case StateCheckingFiles:
		return "checking_files"
	case StateDownloading:
		return "downloading"
	case StateSeeding:
		return "seeding"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is the point-in-time snapshot a caller gets from Torrent.Stats.
type Stats struct {
	State              State
	BytesDownloaded    int64
	BytesUploaded      int64
	BytesWasted        int64
	BytesCompleted     int64
	BytesTotal         int64
	PeersConnected     int
	PiecesComplete     uint32
	PiecesTotal        uint32
}

// torrent drives one download/seed: piece selection, peer sessions,
// disk I/O, and tracker announces, all from a single goroutine
// (component A/B's concurrency contract, spec.md §5).
type torrent struct {
	id        string
	session   *Session
	infoHash  [20]byte
	name      string
	port      int
	peerID    [20]byte
	createdAt time.Time

	settings *Settings
	log      logger.Logger

	info     *metainfo.Info
	bitfield *bitfield.Bitfield
	pieces   []piece.Piece
	files    []storage.File
	storage  storage.Storage
	cache    *diskcache.Cache
	picker   *piecepicker.PiecePicker

	resume    resumer.Resumer
	blocklist *blocklist.Blocklist

	trackerURLs [][]string
	trackerTiers [][]announce.Tracker
	announcers  []*announce.PeriodicalAnnouncer
	addrList    *addrlist.AddrList

	metadataServer *metadata.Server
	tex            *tex.Exchange
	smartban       *smartban.Recorder

	acceptor *acceptor.Acceptor

	peers                   map[*peer.Peer]struct{}
	pieceDownloaders        map[*peer.Peer]*piecedownloader.PieceDownloader
	infoDownloaders         map[*peer.Peer]*infodownloader.InfoDownloader
	optimisticUnchokedPeers map[*peer.Peer]struct{}
	connectedIPs            map[string]struct{}

	messages          chan peer.Message
	pieceMessages     chan peer.PieceMessage
	peerSnubbedC      chan *peer.Peer
	peerDisconnectedC chan *peer.Peer
	handshakeResultC  chan handshaker.Result
	addrsFromTrackers chan []*net.TCPAddr

	allocatorProgressC chan allocator.Progress
	allocatorResultC   chan *allocator.Allocator
	verifierProgressC  chan verifier.Progress
	verifierResultC    chan *verifier.Verifier

	startCommandC chan struct{}
	stopCommandC  chan struct{}
	statsCommandC chan chan Stats
	closeC        chan chan struct{}
	stopForwardC  chan struct{}

	piecePool sync.Pool

	state     State
	completed bool

	bytesDownloaded int64
	bytesUploaded   int64
	bytesWasted     int64
	startedAt       time.Time
}

func randomPeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], "-TC0001-")
	if _, err := rand.Read(id[8:]); err != nil {
		return id, err
	}
	return id, nil
}

// newTorrent builds a torrent in StateCheckingResumeData. info may be
// nil for a magnet download whose metadata has not arrived yet.
func newTorrent(
	s *Session,
	id string,
	infoHash [20]byte,
	name string,
	port int,
	trackerURLs [][]string,
	sto storage.Storage,
	res resumer.Resumer,
	stats resumer.Stats,
	info *metainfo.Info,
	bf *bitfield.Bitfield,
	createdAt time.Time,
) (*torrent, error) {
	peerID, err := randomPeerID()
	if err != nil {
		return nil, err
	}
	t := &torrent{
		id:                      id,
		session:                 s,
		infoHash:                infoHash,
		name:                    name,
		port:                    port,
		peerID:                  peerID,
		createdAt:               createdAt,
		settings:                s.settings,
		log:                     logger.New("torrent " + id),
		storage:                 sto,
		resume:                  res,
		blocklist:               s.blocklist,
		trackerURLs:             trackerURLs,
		addrList:                addrlist.New(2000),
		smartban:                smartban.New(),
		peers:                   make(map[*peer.Peer]struct{}),
		pieceDownloaders:        make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		infoDownloaders:         make(map[*peer.Peer]*infodownloader.InfoDownloader),
		optimisticUnchokedPeers: make(map[*peer.Peer]struct{}),
		connectedIPs:            make(map[string]struct{}),
		messages:                make(chan peer.Message),
		pieceMessages:           make(chan peer.PieceMessage),
		peerSnubbedC:            make(chan *peer.Peer),
		peerDisconnectedC:       make(chan *peer.Peer),
		handshakeResultC:        make(chan handshaker.Result),
		addrsFromTrackers:       make(chan []*net.TCPAddr),
		allocatorProgressC:      make(chan allocator.Progress),
		allocatorResultC:        make(chan *allocator.Allocator, 1),
		verifierProgressC:       make(chan verifier.Progress),
		verifierResultC:         make(chan *verifier.Verifier, 1),
		startCommandC:           make(chan struct{}),
		stopCommandC:            make(chan struct{}),
		statsCommandC:           make(chan chan Stats),
		closeC:                  make(chan chan struct{}),
		stopForwardC:            make(chan struct{}),
		state:                   StateCheckingResumeData,
		bytesDownloaded:         stats.BytesDownloaded,
		bytesUploaded:           stats.BytesUploaded,
		bytesWasted:             stats.BytesWasted,
	}
	t.piecePool.New = func() interface{} { return make([]byte, metainfo.DefaultBlockSize) }
	if info != nil {
		if err := t.setInfo(info, bf); err != nil {
			return nil, err
		}
	}
	go t.run()
	return t, nil
}

// setInfo installs a known info dictionary, building the piece set,
// disk cache, and picker. Called either at construction time or once
// a magnet download's metadata finishes arriving.
func (t *torrent) setInfo(info *metainfo.Info, bf *bitfield.Bitfield) error {
	t.info = info
	t.name = info.Name
	t.pieces = piece.NewPieces(info)
	t.files = make([]storage.File, len(info.Files))
	for i, f := range info.Files {
		priority := 4
		if f.PadFile {
			priority = 0
		}
		t.files[i] = storage.File{Path: f.Path, Length: f.Length, Priority: priority}
	}
	t.cache = diskcache.New(info, t.storage, t.settings.CacheSize, t.settings.AIOThreads)
	if info.Private != 1 {
		t.metadataServer = metadata.NewServer()
		t.metadataServer.SetInfo(info)
		t.tex = tex.New(false)
		for _, tier := range t.trackerURLs {
			for _, u := range tier {
				t.tex.AddLocal(u)
			}
		}
	} else {
		// Private torrents must not load ut_metadata or lt_tex at all
		// (neither served nor advertised), not merely have them no-op.
		t.metadataServer = nil
		t.tex = nil
	}
	if bf != nil {
		t.bitfield = bf
	} else {
		t.bitfield = bitfield.New(info.NumPieces)
	}
	t.picker = piecepicker.New(t.pieces, t.bitfield, false)
	return nil
}

// Name returns the torrent's display name. For a magnet download the
// name may still change once metadata arrives.
func (t *torrent) Name() string { return t.name }

// InfoHash returns the 20-byte v1 info hash identifying this torrent.
func (t *torrent) InfoHash() []byte {
	b := make([]byte, 20)
	copy(b, t.infoHash[:])
	return b
}

// Start signals the run loop to begin allocating/checking/downloading.
func (t *torrent) Start() error {
	select {
	case t.startCommandC <- struct{}{}:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("torrent: start command timed out")
	}
}

// Stop signals the run loop to disconnect peers and stop announcing.
func (t *torrent) Stop() error {
	select {
	case t.stopCommandC <- struct{}{}:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("torrent: stop command timed out")
	}
}

// Stats returns a snapshot of the torrent's current progress.
func (t *torrent) Stats() Stats {
	respC := make(chan Stats, 1)
	select {
	case t.statsCommandC <- respC:
		return <-respC
	case <-time.After(5 * time.Second):
		return Stats{}
	}
}

// Close stops the run loop and waits for it to exit.
func (t *torrent) Close() {
	doneC := make(chan struct{})
	select {
	case t.closeC <- doneC:
		<-doneC
	case <-time.After(10 * time.Second):
	}
}

func (t *torrent) emit(a alert.Alert) {
	t.session.alerts.Push(a)
}

func (t *torrent) errorf(format string, args ...interface{}) {
	t.log.Errorln(fmt.Sprintf(format, args...))
}
