package peerprotocol

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := &HandShake{Reserved: NewReserved(true, true, false, false)}
	copy(h.InfoHash[:], bytes.Repeat([]byte{0xAB}, 20))
	copy(h.PeerID[:], bytes.Repeat([]byte{0xCD}, 20))

	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 68 {
		t.Fatalf("expected 68-byte handshake, got %d", buf.Len())
	}

	got, err := ReadHandShake(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.InfoHash != h.InfoHash || got.PeerID != h.PeerID {
		t.Fatal("handshake round trip mismatch")
	}
	caps := ParseReserved(got.Reserved)
	if !caps.Fast || !caps.Extended || caps.DHT || caps.V2 {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestReadHandShakeInvalidProtocol(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(3)
	buf.WriteString("foo")
	buf.Write(make([]byte, 48))
	_, err := ReadHandShake(&buf)
	if err != ErrInvalidProtocol {
		t.Fatalf("expected ErrInvalidProtocol, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := RequestMessage{Index: 1, Begin: 16384, Length: 16384}
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatal(err)
	}
	id, payload, keepAlive, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if keepAlive {
		t.Fatal("unexpected keep-alive")
	}
	if id != Request {
		t.Fatalf("expected Request id, got %v", id)
	}
	if len(payload) != 12 {
		t.Fatalf("expected 12-byte payload, got %d", len(payload))
	}
}

func TestReadMessageKeepAlive(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, _, keepAlive, err := ReadMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !keepAlive {
		t.Fatal("expected keep-alive")
	}
}

func TestReadMessageInvalidID(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 1, 99})
	_, _, _, err := ReadMessage(buf)
	if err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
