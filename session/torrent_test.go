package session

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/zeebo/bencode"

	"github.com/dragwire/torrentcore/internal/alert"
	"github.com/dragwire/torrentcore/internal/blocklist"
	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/resumer"
	"github.com/dragwire/torrentcore/internal/storage"
)

type fakeResumer struct{}

func (fakeResumer) WriteBitfield(data []byte) error  { return nil }
func (fakeResumer) WriteStats(s resumer.Stats) error { return nil }
func (fakeResumer) WriteStarted(started bool) error  { return nil }

type rawInfoForTest struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
}

func singlePieceInfo(t *testing.T, data []byte) *metainfo.Info {
	t.Helper()
	sum := sha1.Sum(data)
	raw := rawInfoForTest{
		Name:        "file.bin",
		PieceLength: metainfo.DefaultBlockSize,
		Pieces:      string(sum[:]),
		Length:      int64(len(data)),
	}
	b, err := bencode.EncodeBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	info, err := metainfo.NewInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func testSession(t *testing.T) *Session {
	t.Helper()
	s := DefaultSettings
	s.DataDir = t.TempDir()
	tm, err := newTrackerManager("")
	if err != nil {
		t.Fatal(err)
	}
	return &Session{
		settings:  &s,
		blocklist: blocklist.New(),
		trackers:  tm,
		alerts:    alert.NewQueue(s.AlertQueueSize),
		torrents:  make(map[string]*torrent),
		freePorts: map[int]struct{}{0: {}},
		closeC:    make(chan struct{}),
	}
}

func TestTorrentSeedsAlreadyCompleteData(t *testing.T) {
	s := testSession(t)
	data := make([]byte, metainfo.DefaultBlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	info := singlePieceInfo(t, data)

	sto, err := storage.New(t.TempDir(), info, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sto.Writev([][]byte{data}, 0, 0); err != nil {
		t.Fatal(err)
	}

	var infoHash [20]byte
	copy(infoHash[:], info.Hash[:])

	tr, err := newTorrent(s, "t1", infoHash, info.Name, 0, nil, sto, fakeResumer{}, resumer.Stats{}, info, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Stats().State == StateSeeding {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("torrent never reached seeding, last state: %v", tr.Stats().State)
}

func TestTorrentStopThenRestart(t *testing.T) {
	s := testSession(t)
	info := singlePieceInfo(t, make([]byte, metainfo.DefaultBlockSize))
	sto, err := storage.New(t.TempDir(), info, 4)
	if err != nil {
		t.Fatal(err)
	}

	var infoHash [20]byte
	copy(infoHash[:], info.Hash[:])

	tr, err := newTorrent(s, "t2", infoHash, info.Name, 0, nil, sto, fakeResumer{}, resumer.Stats{}, info, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatal("expected torrent to accept a second Start after Stop:", err)
	}
}

func TestTorrentCloseWhileRunning(t *testing.T) {
	s := testSession(t)
	info := singlePieceInfo(t, make([]byte, metainfo.DefaultBlockSize))
	sto, err := storage.New(t.TempDir(), info, 4)
	if err != nil {
		t.Fatal(err)
	}

	var infoHash [20]byte
	copy(infoHash[:], info.Hash[:])

	tr, err := newTorrent(s, "t3", infoHash, info.Name, 0, nil, sto, fakeResumer{}, resumer.Stats{}, info, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	tr.Close()
}
