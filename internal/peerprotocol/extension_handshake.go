package peerprotocol

import (
	"bytes"
	"net"

	"github.com/zeebo/bencode"
)

// ExtensionHandshake is the bencoded dictionary sent as the first
// extension-protocol message when both peers set the extended bit in
// their handshake reserved bytes (spec.md §4.3).
type ExtensionHandshake struct {
	M            map[string]ExtendedMessageID `bencode:"m"`
	MetadataSize uint32                       `bencode:"metadata_size,omitempty"`
	Tex          string                       `bencode:"tr,omitempty"`
	Version      string                       `bencode:"v,omitempty"`
	YourIP       string                       `bencode:"yourip,omitempty"`
	ReqQ         int                          `bencode:"reqq,omitempty"`
}

// NewExtensionHandshake builds the local extension handshake,
// advertising ut_metadata/lt_tex only when the caller says we're
// allowed to: private torrents (private flag set, metadata known)
// must not advertise either, so peers never even try to use them.
func NewExtensionHandshake(metadataSize uint32, version string, yourIP net.IP, advertiseMetadata, advertiseTex bool) *ExtensionHandshake {
	m := make(map[string]ExtendedMessageID)
	if advertiseMetadata {
		m[ExtensionNameMetadata] = 1
	}
	if advertiseTex {
		m[ExtensionNameTex] = 3
	}
	h := &ExtensionHandshake{
		M:            m,
		MetadataSize: metadataSize,
		Version:      version,
		ReqQ:         250,
	}
	if yourIP != nil {
		if ip4 := yourIP.To4(); ip4 != nil {
			h.YourIP = string(ip4)
		} else {
			h.YourIP = string(yourIP.To16())
		}
	}
	return h
}

// MarshalBencode implements bencode.Marshaler so ExtensionHandshake
// can be embedded directly as an ExtensionMessage payload.
func (h *ExtensionHandshake) MarshalBencode() ([]byte, error) {
	return bencode.EncodeBytes(h)
}

// UnmarshalExtensionHandshake decodes a received extension handshake
// payload.
func UnmarshalExtensionHandshake(b []byte) (*ExtensionHandshake, error) {
	var h ExtensionHandshake
	if err := bencode.DecodeBytes(b, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ExtensionMetadataMessageType enumerates the ut_metadata sub-message
// kinds (spec.md §4.3).
type ExtensionMetadataMessageType int

const (
	ExtensionMetadataMessageTypeRequest ExtensionMetadataMessageType = 0
	ExtensionMetadataMessageTypeData    ExtensionMetadataMessageType = 1
	ExtensionMetadataMessageTypeReject  ExtensionMetadataMessageType = 2
)

// ExtensionMetadataMessage is the bencoded dictionary prefix of a
// ut_metadata wire message; for Data messages the raw metadata chunk
// follows immediately after the dictionary in the extension payload.
type ExtensionMetadataMessage struct {
	Type      ExtensionMetadataMessageType `bencode:"msg_type"`
	Piece     uint32                       `bencode:"piece"`
	TotalSize uint32                       `bencode:"total_size,omitempty"`
}

// MarshalBencode implements bencode.Marshaler.
func (m ExtensionMetadataMessage) MarshalBencode() ([]byte, error) {
	return bencode.EncodeBytes(m)
}

// UnmarshalExtensionMetadataMessage decodes the dictionary prefix of a
// ut_metadata payload and returns the remaining bytes (the raw
// metadata chunk for Data messages, empty otherwise). The dictionary
// and the chunk are simply concatenated on the wire, so the consumed
// byte count comes from how far the decoder's reader advanced.
func UnmarshalExtensionMetadataMessage(b []byte) (*ExtensionMetadataMessage, []byte, error) {
	r := bytes.NewReader(b)
	var m ExtensionMetadataMessage
	if err := bencode.NewDecoder(r).Decode(&m); err != nil {
		return nil, nil, err
	}
	consumed := len(b) - r.Len()
	return &m, b[consumed:], nil
}

// ExtensionTexMessage is the bencoded `lt_tex` payload: the set of
// tracker URLs the sender has accepted since connecting.
type ExtensionTexMessage struct {
	Added   []string `bencode:"added,omitempty"`
	Dropped []string `bencode:"dropped,omitempty"`
}

// MarshalBencode implements bencode.Marshaler.
func (m ExtensionTexMessage) MarshalBencode() ([]byte, error) {
	return bencode.EncodeBytes(m)
}

// UnmarshalExtensionTexMessage decodes an `lt_tex` payload.
func UnmarshalExtensionTexMessage(b []byte) (*ExtensionTexMessage, error) {
	var m ExtensionTexMessage
	if err := bencode.DecodeBytes(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
