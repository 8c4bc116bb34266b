package peerprotocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// MessageID identifies a peer-wire message type (spec.md §4.3).
type MessageID byte

// Standard peer-wire message ids.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
	Suggest       MessageID = 13
	HaveAll       MessageID = 14
	HaveNone      MessageID = 15
	Reject        MessageID = 16
	AllowedFast   MessageID = 17
	Extended      MessageID = 20
)

// ErrInvalidMessage is returned for an unrecognised message id.
var ErrInvalidMessage = errors.New("peerprotocol: invalid_message")

// Message is anything that can serialize itself as a peer-wire
// message payload (id + body, length prefix added by the writer).
type Message interface {
	ID() MessageID
	MarshalBinary() (id MessageID, payload []byte, err error)
}

// ChokeMessage ...
type ChokeMessage struct{}

func (ChokeMessage) ID() MessageID { return Choke }
func (ChokeMessage) MarshalBinary() (MessageID, []byte, error) { return Choke, nil, nil }

// UnchokeMessage ...
type UnchokeMessage struct{}

func (UnchokeMessage) ID() MessageID { return Unchoke }
func (UnchokeMessage) MarshalBinary() (MessageID, []byte, error) { return Unchoke, nil, nil }

// InterestedMessage ...
type InterestedMessage struct{}

func (InterestedMessage) ID() MessageID { return Interested }
func (InterestedMessage) MarshalBinary() (MessageID, []byte, error) { return Interested, nil, nil }

// NotInterestedMessage ...
type NotInterestedMessage struct{}

func (NotInterestedMessage) ID() MessageID { return NotInterested }
func (NotInterestedMessage) MarshalBinary() (MessageID, []byte, error) {
	return NotInterested, nil, nil
}

// HaveMessage announces a newly-completed piece.
type HaveMessage struct{ Index uint32 }

func (HaveMessage) ID() MessageID { return Have }
func (m HaveMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return Have, b, nil
}

// BitfieldMessage carries the sender's piece set.
type BitfieldMessage struct{ Data []byte }

func (BitfieldMessage) ID() MessageID { return Bitfield }
func (m BitfieldMessage) MarshalBinary() (MessageID, []byte, error) { return Bitfield, m.Data, nil }

// RequestMessage requests one block.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) ID() MessageID { return Request }
func (m RequestMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return Request, b, nil
}

// PieceMessage carries the header of a piece/block transfer; the
// block payload itself is streamed separately by the writer to avoid
// an extra copy of up to 16 KiB.
type PieceMessage struct {
	Index, Begin uint32
}

func (PieceMessage) ID() MessageID { return Piece }
func (m PieceMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	return Piece, b, nil
}

// CancelMessage suppresses a pending outgoing-piece if not already on
// the wire.
type CancelMessage struct {
	Index, Begin, Length uint32
}

func (CancelMessage) ID() MessageID { return Cancel }
func (m CancelMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return Cancel, b, nil
}

// PortMessage announces the sender's DHT node port (BEP 5).
type PortMessage struct{ Port uint16 }

func (PortMessage) ID() MessageID { return Port }
func (m PortMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.Port)
	return Port, b, nil
}

// SuggestMessage is a fast-extension hint (BEP 6).
type SuggestMessage struct{ Index uint32 }

func (SuggestMessage) ID() MessageID { return Suggest }
func (m SuggestMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return Suggest, b, nil
}

// HaveAllMessage (BEP 6): sender has every piece.
type HaveAllMessage struct{}

func (HaveAllMessage) ID() MessageID { return HaveAll }
func (HaveAllMessage) MarshalBinary() (MessageID, []byte, error) { return HaveAll, nil, nil }

// HaveNoneMessage (BEP 6): sender has no pieces.
type HaveNoneMessage struct{}

func (HaveNoneMessage) ID() MessageID { return HaveNone }
func (HaveNoneMessage) MarshalBinary() (MessageID, []byte, error) { return HaveNone, nil, nil }

// RejectMessage (BEP 6): rejects a pending request.
type RejectMessage struct {
	Index, Begin, Length uint32
}

func (RejectMessage) ID() MessageID { return Reject }
func (m RejectMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return Reject, b, nil
}

// AllowedFastMessage (BEP 6): the index may be requested while choked.
type AllowedFastMessage struct{ Index uint32 }

func (AllowedFastMessage) ID() MessageID { return AllowedFast }
func (m AllowedFastMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return AllowedFast, b, nil
}

// ExtendedMessageID identifies an extension-protocol sub-message.
type ExtendedMessageID byte

// ExtensionIDHandshake is always id 0 under message id 20 (spec.md §6).
const ExtensionIDHandshake ExtendedMessageID = 0

// Well-known extension names negotiated in the extended handshake `m`
// dictionary.
const (
	ExtensionNameMetadata = "ut_metadata"
	ExtensionNameTex      = "lt_tex"
)

// ExtensionMessage wraps a raw extension-protocol payload.
type ExtensionMessage struct {
	ExtendedMessageID ExtendedMessageID
	Payload           []byte
}

func (ExtensionMessage) ID() MessageID { return Extended }
func (m ExtensionMessage) MarshalBinary() (MessageID, []byte, error) {
	b := make([]byte, 1+len(m.Payload))
	b[0] = byte(m.ExtendedMessageID)
	copy(b[1:], m.Payload)
	return Extended, b, nil
}

// ReadMessage reads one length-prefixed message from r. A zero-length
// message is a keep-alive and is reported via keepAlive=true with id 0
// and a nil payload.
func ReadMessage(r io.Reader) (id MessageID, payload []byte, keepAlive bool, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, false, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, true, nil
	}
	buf := make([]byte, length)
	if _, err = io.ReadFull(r, buf); err != nil {
		return 0, nil, false, err
	}
	id = MessageID(buf[0])
	if !validMessageID(id) {
		return 0, nil, false, ErrInvalidMessage
	}
	return id, buf[1:], false, nil
}

func validMessageID(id MessageID) bool {
	switch id {
	case Choke, Unchoke, Interested, NotInterested, Have, Bitfield, Request,
		Piece, Cancel, Port, Suggest, HaveAll, HaveNone, Reject, AllowedFast, Extended:
		return true
	default:
		return false
	}
}

// WriteMessage serializes and writes msg to w with its 4-byte length
// prefix.
func WriteMessage(w io.Writer, msg Message) error {
	id, payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	_, err = w.Write(buf)
	return err
}

// WriteKeepAlive writes a zero-length keep-alive message.
func WriteKeepAlive(w io.Writer) error {
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}
