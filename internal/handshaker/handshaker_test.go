package handshaker

import (
	"net"
	"testing"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

func TestOutgoingIncomingHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var infoHash [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	var clientID, serverID [20]byte
	copy(clientID[:], "client01client01clie")
	copy(serverID[:], "server01server01serv")

	caps := peerprotocol.Capabilities{Fast: true, Extended: true}
	l := logger.New("test")

	serverResultC := make(chan Result, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverResultC <- Result{Error: err}
			return
		}
		Incoming(conn, serverID, caps, time.Second, time.Second, 0, l, serverResultC, nil)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	clientResultC := make(chan Result, 1)
	go Outgoing(addr, infoHash, clientID, caps, time.Second, time.Second, time.Second, 0, l, clientResultC, nil)

	clientRes := <-clientResultC
	if clientRes.Error != nil {
		t.Fatalf("client handshake failed: %v", clientRes.Error)
	}
	serverRes := <-serverResultC
	if serverRes.Error != nil {
		t.Fatalf("server handshake failed: %v", serverRes.Error)
	}
	if serverRes.InfoHash != infoHash {
		t.Fatalf("expected server to learn info hash, got %x", serverRes.InfoHash)
	}
	if clientRes.Conn.ID() != serverID {
		t.Fatalf("expected client to learn server peer id")
	}
}
