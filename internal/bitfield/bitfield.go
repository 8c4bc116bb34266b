// Package bitfield implements a fixed-length bitmap used for piece
// sets: "pieces we have" and "pieces the peer has".
package bitfield

import "errors"

// Bitfield is a fixed-length set of bits backed by a byte slice, one
// bit per piece index, most significant bit first within each byte
// (the order the peer wire `bitfield` message uses on the wire).
type Bitfield struct {
	b    []byte
	_len uint32
}

// New returns a Bitfield with len bits, all clear.
func New(len uint32) *Bitfield {
	return &Bitfield{
		b:    make([]byte, numBytes(len)),
		_len: len,
	}
}

// NewBytes wraps an existing byte slice as a Bitfield of bitLen bits.
// It copies the input so the caller may reuse its buffer.
func NewBytes(b []byte, bitLen uint32) (*Bitfield, error) {
	if uint32(len(b)) != numBytes(bitLen) {
		return nil, errors.New("bitfield: invalid length")
	}
	bf := &Bitfield{
		b:    make([]byte, len(b)),
		_len: bitLen,
	}
	copy(bf.b, b)
	return bf, nil
}

func numBytes(n uint32) uint32 {
	return (n + 7) / 8
}

// Len returns the number of bits in the bitfield.
func (b *Bitfield) Len() uint32 { return b._len }

// Bytes returns the underlying byte slice. Callers must not mutate it.
func (b *Bitfield) Bytes() []byte { return b.b }

// Test reports whether bit i is set.
func (b *Bitfield) Test(i uint32) bool {
	if i >= b._len {
		return false
	}
	return b.b[i/8]&(0x80>>(i%8)) != 0
}

// Set sets bit i.
func (b *Bitfield) Set(i uint32) {
	if i >= b._len {
		return
	}
	b.b[i/8] |= 0x80 >> (i % 8)
}

// Clear clears bit i.
func (b *Bitfield) Clear(i uint32) {
	if i >= b._len {
		return
	}
	b.b[i/8] &^= 0x80 >> (i % 8)
}

// ClearAll clears every bit.
func (b *Bitfield) ClearAll() {
	for i := range b.b {
		b.b[i] = 0
	}
}

// All reports whether every bit is set.
func (b *Bitfield) All() bool {
	return b.Count() == b._len
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint32 {
	var n uint32
	for i := uint32(0); i < b._len; i++ {
		if b.Test(i) {
			n++
		}
	}
	return n
}

// Copy returns an independent copy of the bitfield.
func (b *Bitfield) Copy() *Bitfield {
	nb := make([]byte, len(b.b))
	copy(nb, b.b)
	return &Bitfield{b: nb, _len: b._len}
}
