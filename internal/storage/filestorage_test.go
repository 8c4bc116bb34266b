package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dragwire/torrentcore/internal/metainfo"
)

func twoFileInfo() *metainfo.Info {
	return &metainfo.Info{
		PieceLength: 16 * 1024,
		Files: []metainfo.File{
			{Path: []string{"a.txt"}, Length: 10},
			{Path: []string{"sub", "b.txt"}, Length: 20},
		},
	}
}

func TestFileStorageWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir, twoFileInfo(), 4)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("0123456789abcdefghij") // spans both files (10 + 10 of 20)
	if _, err := fs.Writev([][]byte{data}, 0, 0); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(data))
	if _, err := fs.Readv([][]byte{buf}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(data) {
		t.Fatalf("expected %q, got %q", data, buf)
	}

	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("expected a.txt to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "b.txt")); err != nil {
		t.Fatalf("expected sub/b.txt to exist: %v", err)
	}
}

func TestFileStoragePriorityZeroSkipsWrites(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir, twoFileInfo(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.SetFilePriority([]int{0, 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Writev([][]byte{[]byte("xxxxxxxxxx")}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt to not exist, stat err=%v", err)
	}
}

func TestFileStorageHandlePoolEviction(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{
		PieceLength: 16 * 1024,
		Files: []metainfo.File{
			{Path: []string{"a.txt"}, Length: 10},
			{Path: []string{"b.txt"}, Length: 10},
			{Path: []string{"c.txt"}, Length: 10},
		},
	}
	fs, err := New(dir, info, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := fs.Writev([][]byte{[]byte("0123456789")}, 0, int64(i*10)); err != nil {
			t.Fatal(err)
		}
	}
	if len(fs.handles) > 2 {
		t.Fatalf("expected pool size capped at 2, got %d", len(fs.handles))
	}
}

func TestFileStorageDeleteFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir, twoFileInfo(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Writev([][]byte{[]byte("0123456789")}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := fs.DeleteFiles(DeleteOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt removed, stat err=%v", err)
	}
}
