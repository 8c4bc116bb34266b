// Package peerprotocol implements the peer-wire message framing and
// handshake record described in spec.md §4.3.
package peerprotocol

import (
	"errors"
	"io"
)

const protocolString = "BitTorrent protocol"

// Reserved-byte bit positions, counted from the first reserved byte
// (index 0) through the eighth (index 7), most significant bit first
// within each byte — matching the historical BEP conventions spec.md
// §4.3 cites.
const (
	// ExtensionBitFast marks BEP-6 fast-extension support, bit 2 of
	// the 8th reserved byte.
	ExtensionBitFast = 61
	// ExtensionBitDHT marks BEP-5 DHT port support, bit 0 of the 8th
	// reserved byte.
	ExtensionBitDHT = 63
	// ExtensionBitExtended marks BEP-10 extension-protocol support,
	// bit 4 (mask 0x10) of the 6th reserved byte.
	ExtensionBitExtended = 43
	// ExtensionBitV2 marks hybrid v1/v2 torrent support, bit 3 of the
	// 8th reserved byte.
	ExtensionBitV2 = 60
)

// HandShake is the fixed 68-byte record exchanged before any other
// peer-wire traffic.
type HandShake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// ErrInvalidProtocol is returned when the peer's protocol identifier
// does not match the expected "BitTorrent protocol" string.
var ErrInvalidProtocol = errors.New("peerprotocol: invalid protocol identifier")

// Write serializes the handshake record to w.
func (h *HandShake) Write(w io.Writer) error {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(protocolString)))
	buf = append(buf, protocolString...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	_, err := w.Write(buf)
	return err
}

// ReadHandShake reads and validates a handshake record from r. It does
// not verify the info-hash against any known torrent; the caller does
// that and disconnects with `invalid_info_hash` if necessary.
func ReadHandShake(r io.Reader) (*HandShake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	pstrlen := int(lenBuf[0])
	buf := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if string(buf[:pstrlen]) != protocolString {
		return nil, ErrInvalidProtocol
	}
	h := &HandShake{}
	copy(h.Reserved[:], buf[pstrlen:pstrlen+8])
	copy(h.InfoHash[:], buf[pstrlen+8:pstrlen+28])
	copy(h.PeerID[:], buf[pstrlen+28:pstrlen+48])
	return h, nil
}

func setBit(reserved *[8]byte, bit int) {
	byteIndex := bit / 8
	bitIndex := uint(bit % 8)
	reserved[byteIndex] |= 1 << (7 - bitIndex)
}

func testBit(reserved [8]byte, bit int) bool {
	byteIndex := bit / 8
	bitIndex := uint(bit % 8)
	return reserved[byteIndex]&(1<<(7-bitIndex)) != 0
}

// NewReserved builds the reserved-byte field for the local handshake
// given locally-supported capabilities.
func NewReserved(fast, extended, dht, v2 bool) [8]byte {
	var r [8]byte
	if fast {
		setBit(&r, ExtensionBitFast)
	}
	if extended {
		setBit(&r, ExtensionBitExtended)
	}
	if dht {
		setBit(&r, ExtensionBitDHT)
	}
	if v2 {
		setBit(&r, ExtensionBitV2)
	}
	return r
}

// Capabilities decodes the peer's reserved bytes into individual
// feature flags.
type Capabilities struct {
	Fast     bool
	Extended bool
	DHT      bool
	V2       bool
}

// ParseReserved decodes a peer's advertised reserved bytes.
func ParseReserved(r [8]byte) Capabilities {
	return Capabilities{
		Fast:     testBit(r, ExtensionBitFast),
		Extended: testBit(r, ExtensionBitExtended),
		DHT:      testBit(r, ExtensionBitDHT),
		V2:       testBit(r, ExtensionBitV2),
	}
}
