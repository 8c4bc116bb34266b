package allocator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dragwire/torrentcore/internal/storage"
)

func TestRunAllocatesFiles(t *testing.T) {
	dir := t.TempDir()
	files := []storage.File{
		{Path: []string{"a.bin"}, Length: 1024, Priority: 4},
		{Path: []string{"b.bin"}, Length: 0, Priority: 0},
	}
	sto := &fakeStorage{dir: dir}

	progressC := make(chan Progress, 8)
	resultC := make(chan *Allocator, 1)
	a := New(sto, files, progressC, resultC)
	go a.Run()

	result := <-resultC
	if result.Error != nil {
		t.Fatal(result.Error)
	}
	if result.AllocatedSize != 1024 {
		t.Fatalf("expected 1024 bytes allocated, got %d", result.AllocatedSize)
	}
}

type fakeStorage struct {
	dir string
}

func (f *fakeStorage) Readv(buffers [][]byte, piece uint32, offset int64) (int, error) {
	return 0, nil
}
func (f *fakeStorage) Writev(buffers [][]byte, piece uint32, offset int64) (int, error) {
	fp, err := os.OpenFile(filepath.Join(f.dir, "data"), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer fp.Close()
	n := 0
	for _, b := range buffers {
		if _, err := fp.WriteAt(b, offset+int64(n)); err != nil {
			return n, err
		}
		n += len(b)
	}
	return n, nil
}
func (f *fakeStorage) MoveStorage(newPath string, policy storage.MovePolicy) (storage.MoveStatus, string, error) {
	return storage.MoveStatusSuccess, newPath, nil
}
func (f *fakeStorage) HasAnyFile() (bool, error)             { return false, nil }
func (f *fakeStorage) RenameFile(index int, newName string) error { return nil }
func (f *fakeStorage) ReleaseFiles() error                   { return nil }
func (f *fakeStorage) DeleteFiles(opts storage.DeleteOptions) error { return nil }
func (f *fakeStorage) SetFilePriority(priorities []int) error { return nil }
func (f *fakeStorage) Dest() string                           { return f.dir }
