package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

func TestConnSendAndReceive(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	caps := peerprotocol.Capabilities{}
	ca := New(a, [20]byte{1}, caps, logger.New("test-a"), 0, 0)
	cb := New(b, [20]byte{2}, caps, logger.New("test-b"), 0, 0)

	go ca.Run()
	go cb.Run()
	defer ca.Close()
	defer cb.Close()

	ca.SendMessage(peerprotocol.InterestedMessage{})

	select {
	case msg := <-cb.Messages():
		if _, ok := msg.(peerprotocol.InterestedMessage); !ok {
			t.Fatalf("expected InterestedMessage, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnSendPiece(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	caps := peerprotocol.Capabilities{}
	ca := New(a, [20]byte{1}, caps, logger.New("test-a"), 0, 0)
	cb := New(b, [20]byte{2}, caps, logger.New("test-b"), 0, 0)

	go ca.Run()
	go cb.Run()
	defer ca.Close()
	defer cb.Close()

	ca.SendPiece(PieceData{Index: 1, Begin: 0, Data: []byte("hello")})

	select {
	case msg := <-cb.Messages():
		p, ok := msg.(Piece)
		if !ok {
			t.Fatalf("expected Piece, got %T", msg)
		}
		if string(p.Data) != "hello" {
			t.Fatalf("expected hello, got %q", p.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for piece")
	}
}
