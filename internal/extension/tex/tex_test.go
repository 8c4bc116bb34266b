package tex

import (
	"testing"

	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

func TestBuildMessageSkipsUnchanged(t *testing.T) {
	e := New(false)
	e.AddLocal("http://a.example/announce")
	msg := e.BuildMessage()
	if msg == nil || len(msg.Added) != 1 {
		t.Fatalf("expected first build to include the tracker, got %+v", msg)
	}
	if msg2 := e.BuildMessage(); msg2 != nil {
		t.Fatalf("expected unchanged set to short-circuit, got %+v", msg2)
	}
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	e := New(false)
	fresh := e.HandleMessage(&peerprotocol.ExtensionTexMessage{Added: []string{"not-a-url"}})
	if len(fresh) != 0 {
		t.Fatalf("expected garbage entry to be dropped, got %v", fresh)
	}
}

func TestPrivateTorrentDisablesExchange(t *testing.T) {
	e := New(true)
	e.AddLocal("http://a.example/announce")
	if msg := e.BuildMessage(); msg != nil {
		t.Fatalf("expected private torrent to never build a message, got %+v", msg)
	}
}
