package diskcache

import (
	"crypto/sha1"
	"testing"

	"github.com/zeebo/bencode"

	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/storage"
)

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

func TestWriteCompleteAndHash(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, metainfo.DefaultBlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	info := singlePieceInfo(t, data)

	sto, err := storage.New(dir, info, 4)
	if err != nil {
		t.Fatal(err)
	}
	c := New(info, sto, 0, 2)

	if c.Complete(0) {
		t.Fatal("expected piece incomplete before any write")
	}
	c.Write(0, 0, data)
	if !c.Complete(0) {
		t.Fatal("expected piece complete after writing its only block")
	}

	ok, assembled, err := c.HashPiece(0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hash to match")
	}
	if string(assembled) != string(data) {
		t.Fatal("expected assembled bytes to match written data")
	}

	if err := c.Flush(0); err != nil {
		t.Fatal(err)
	}
}

func TestReadFallsBackToStorageAfterEvict(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, metainfo.DefaultBlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	info := singlePieceInfo(t, data)

	sto, err := storage.New(dir, info, 4)
	if err != nil {
		t.Fatal(err)
	}
	c := New(info, sto, 0, 2)
	c.Write(0, 0, data)
	if err := c.Flush(0); err != nil {
		t.Fatal(err)
	}
	c.Evict(0)

	buf := make([]byte, len(data))
	if _, err := c.Read(0, 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(data) {
		t.Fatal("expected read after evict to fall back to storage")
	}
}
