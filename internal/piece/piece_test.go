package piece

import "testing"

func TestNewBlocksExactMultiple(t *testing.T) {
	blocks := newBlocks(32 * 1024)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	for _, b := range blocks {
		if b.Length != 16*1024 {
			t.Fatalf("expected full-length blocks, got %d", b.Length)
		}
	}
}

func TestNewBlocksShortLast(t *testing.T) {
	blocks := newBlocks(16*1024 + 100)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].Length != 100 {
		t.Fatalf("expected short last block of 100, got %d", blocks[1].Length)
	}
}

func TestGetBlock(t *testing.T) {
	p := Piece{Blocks: newBlocks(32 * 1024)}
	b := p.GetBlock(16384)
	if b == nil || b.Index != 1 {
		t.Fatalf("expected block 1 at offset 16384, got %+v", b)
	}
}
