package metainfo

import (
	"testing"

	"github.com/zeebo/bencode"
)

func encodeInfo(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := bencode.EncodeBytes(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewInfoSingleFile(t *testing.T) {
	raw := encodeInfo(t, map[string]interface{}{
		"name":         "foo.txt",
		"piece length": int64(16384),
		"pieces":       string(make([]byte, 20)),
		"length":       int64(10000),
	})
	info, err := NewInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.NumPieces != 1 {
		t.Fatalf("expected 1 piece, got %d", info.NumPieces)
	}
	if info.TotalLength != 10000 {
		t.Fatalf("expected total length 10000, got %d", info.TotalLength)
	}
	if info.PieceLengthFor(0) != 10000 {
		t.Fatalf("single-piece torrent's only piece is as long as the torrent, got %d", info.PieceLengthFor(0))
	}
}

func TestNewInfoRejectsNonPowerOfTwoPieceLength(t *testing.T) {
	raw := encodeInfo(t, map[string]interface{}{
		"name":         "foo.txt",
		"piece length": int64(17000),
		"pieces":       string(make([]byte, 20)),
		"length":       int64(10000),
	})
	_, err := NewInfo(raw)
	if err == nil {
		t.Fatal("expected error for non-power-of-two piece length")
	}
}

func TestNewInfoMultiFile(t *testing.T) {
	raw := encodeInfo(t, map[string]interface{}{
		"name":         "dir",
		"piece length": int64(16384),
		"pieces":       string(make([]byte, 40)),
		"files": []interface{}{
			map[string]interface{}{"length": int64(16384), "path": []interface{}{"a.bin"}},
			map[string]interface{}{"length": int64(10000), "path": []interface{}{"sub", "b.bin"}},
		},
	})
	info, err := NewInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(info.Files))
	}
	if info.TotalLength != 26384 {
		t.Fatalf("expected total 26384, got %d", info.TotalLength)
	}
	lastPieceLen := info.PieceLengthFor(1)
	if lastPieceLen != 26384-16384 {
		t.Fatalf("expected short final piece, got %d", lastPieceLen)
	}
}
