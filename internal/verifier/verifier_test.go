package verifier

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

func TestRunVerifiesMatchingData(t *testing.T) {
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
	if _, err := sto.Writev([][]byte{data}, 0, 0); err != nil {
		t.Fatal(err)
	}

	progressC := make(chan Progress, 8)
	resultC := make(chan *Verifier, 1)
	v := New(sto, info, progressC, resultC)
	go v.Run()

	result := <-resultC
	if result.Error != nil {
		t.Fatal(result.Error)
	}
	if !result.Bitfield.Test(0) {
		t.Fatal("expected piece 0 to verify")
	}
}

func TestRunRejectsMismatchedData(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, metainfo.DefaultBlockSize)
	info := singlePieceInfo(t, data)

	sto, err := storage.New(dir, info, 4)
	if err != nil {
		t.Fatal(err)
	}
	garbage := make([]byte, metainfo.DefaultBlockSize)
	garbage[0] = 1
	if _, err := sto.Writev([][]byte{garbage}, 0, 0); err != nil {
		t.Fatal(err)
	}

	progressC := make(chan Progress, 8)
	resultC := make(chan *Verifier, 1)
	v := New(sto, info, progressC, resultC)
	go v.Run()

	result := <-resultC
	if result.Error != nil {
		t.Fatal(result.Error)
	}
	if result.Bitfield.Test(0) {
		t.Fatal("expected piece 0 to fail verification")
	}
}
