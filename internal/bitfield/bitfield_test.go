package bitfield

import "testing"

func TestSetTestClear(t *testing.T) {
	bf := New(10)
	if bf.Test(3) {
		t.Fatal("expected clear")
	}
	bf.Set(3)
	if !bf.Test(3) {
		t.Fatal("expected set")
	}
	bf.Clear(3)
	if bf.Test(3) {
		t.Fatal("expected clear after Clear")
	}
}

func TestAllAndCount(t *testing.T) {
	bf := New(3)
	if bf.All() {
		t.Fatal("empty bitfield should not be All")
	}
	bf.Set(0)
	bf.Set(1)
	bf.Set(2)
	if !bf.All() {
		t.Fatal("expected All after setting every bit")
	}
	if bf.Count() != 3 {
		t.Fatalf("expected count 3, got %d", bf.Count())
	}
}

func TestNewBytesRoundTrip(t *testing.T) {
	bf := New(16)
	bf.Set(0)
	bf.Set(15)
	bf2, err := NewBytes(bf.Bytes(), 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bf2.Test(0) || !bf2.Test(15) || bf2.Test(1) {
		t.Fatal("round trip mismatch")
	}
}

func TestNewBytesInvalidLength(t *testing.T) {
	_, err := NewBytes([]byte{0, 0}, 32)
	if err == nil {
		t.Fatal("expected error for mismatched length")
	}
}
