// Package handshaker performs the peer-wire handshake (spec.md
// §4.3) for both outgoing (dial) and incoming (accept) connections,
// each in its own goroutine so a slow or malicious remote peer can
// never block the torrent's event loop.
package handshaker

import (
	"errors"
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/peerconn"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// ErrInfoHashMismatch is returned when the remote's handshake carries
// a different info-hash than the one being verified.
var ErrInfoHashMismatch = errors.New("handshaker: info hash mismatch")

// ErrOwnConnection is returned when the remote's peer id matches ours,
// meaning we have somehow connected to ourselves.
var ErrOwnConnection = errors.New("handshaker: connected to self")

// Result is sent on the outgoing/incoming handshaker's result channel
// once the handshake either succeeds or fails.
type Result struct {
	Conn     *peerconn.Conn
	InfoHash [20]byte
	Outgoing bool
	Addr     *net.TCPAddr
	Error    error
}

// Outgoing dials addr, sends our handshake, and validates the peer's
// response against infoHash. It must run in its own goroutine; the
// result is delivered on resultC even on failure so the caller can
// account for the attempt.
func Outgoing(addr *net.TCPAddr, infoHash, peerID [20]byte, caps peerprotocol.Capabilities, connectTimeout, handshakeTimeout, pieceTimeout, keepAlive time.Duration, l logger.Logger, resultC chan<- Result, stopC <-chan struct{}) {
	conn, err := net.DialTimeout("tcp", addr.String(), connectTimeout)
	if err != nil {
		sendResult(resultC, Result{Outgoing: true, Addr: addr, Error: err}, stopC)
		return
	}
	pc, _, _, err := doHandshake(conn, infoHash, peerID, caps, handshakeTimeout, pieceTimeout, keepAlive, l, true)
	if err != nil {
		conn.Close()
		sendResult(resultC, Result{Outgoing: true, Addr: addr, Error: err}, stopC)
		return
	}
	sendResult(resultC, Result{Conn: pc, InfoHash: infoHash, Outgoing: true, Addr: addr}, stopC)
}

// Incoming completes the responder side of the handshake on an
// already-accepted conn, discovering the remote's requested info
// hash so the session can route the connection to the right torrent.
func Incoming(conn net.Conn, peerID [20]byte, caps peerprotocol.Capabilities, handshakeTimeout, pieceTimeout, keepAlive time.Duration, l logger.Logger, resultC chan<- Result, stopC <-chan struct{}) {
	addr, _ := conn.RemoteAddr().(*net.TCPAddr)
	pc, ih, _, err := doHandshake(conn, [20]byte{}, peerID, caps, handshakeTimeout, pieceTimeout, keepAlive, l, false)
	if err != nil {
		conn.Close()
		sendResult(resultC, Result{Outgoing: false, Addr: addr, Error: err}, stopC)
		return
	}
	sendResult(resultC, Result{Conn: pc, InfoHash: ih, Outgoing: false, Addr: addr}, stopC)
}

func doHandshake(conn net.Conn, infoHash, peerID [20]byte, caps peerprotocol.Capabilities, handshakeTimeout, pieceTimeout, keepAlive time.Duration, l logger.Logger, haveInfoHash bool) (*peerconn.Conn, [20]byte, peerprotocol.Capabilities, error) {
	_ = conn.SetDeadline(timeNow().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	reserved := peerprotocol.NewReserved(caps.Fast, caps.Extended, caps.DHT, caps.V2)
	out := &peerprotocol.HandShake{Reserved: reserved, InfoHash: infoHash, PeerID: peerID}
	if haveInfoHash {
		if err := out.Write(conn); err != nil {
			return nil, [20]byte{}, peerprotocol.Capabilities{}, err
		}
	}

	in, err := peerprotocol.ReadHandShake(conn)
	if err != nil {
		return nil, [20]byte{}, peerprotocol.Capabilities{}, err
	}
	if in.PeerID == peerID {
		return nil, [20]byte{}, peerprotocol.Capabilities{}, ErrOwnConnection
	}
	if haveInfoHash && in.InfoHash != infoHash {
		return nil, [20]byte{}, peerprotocol.Capabilities{}, ErrInfoHashMismatch
	}
	if !haveInfoHash {
		out.InfoHash = in.InfoHash
		if err := out.Write(conn); err != nil {
			return nil, [20]byte{}, peerprotocol.Capabilities{}, err
		}
	}

	remoteCaps := peerprotocol.ParseReserved(in.Reserved)
	pc := peerconn.New(conn, in.PeerID, remoteCaps, l, pieceTimeout, keepAlive)
	return pc, in.InfoHash, remoteCaps, nil
}

func sendResult(resultC chan<- Result, r Result, stopC <-chan struct{}) {
	select {
	case resultC <- r:
	case <-stopC:
	}
}

var timeNow = time.Now
