package announce

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"
)

const udpProtocolMagic = 0x41727101980

const (
	udpActionConnect  = 0
	udpActionAnnounce = 1
	udpActionScrape   = 2
	udpActionError    = 3
)

// connIDLifetime is how long a connection id returned by a UDP
// tracker stays valid, per BEP 15.
const connIDLifetime = 2 * time.Minute

// UDPTracker implements Tracker over the BEP 15 binary UDP protocol.
type UDPTracker struct {
	rawURL  string
	addr    string
	timeout time.Duration

	mu        sync.Mutex
	connID    uint64
	connIDSet time.Time
}

// NewUDPTracker parses a udp:// tracker URL.
func NewUDPTracker(rawURL string, timeout time.Duration) (*UDPTracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "udp" {
		return nil, fmt.Errorf("announce: not a udp tracker: %s", rawURL)
	}
	return &UDPTracker{rawURL: rawURL, addr: u.Host, timeout: timeout}, nil
}

func (t *UDPTracker) URL() string { return t.rawURL }

func (t *UDPTracker) dial(ctx context.Context) (*net.UDPConn, *net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else if t.timeout > 0 {
		conn.SetDeadline(time.Now().Add(t.timeout))
	}
	return conn, raddr, nil
}

func (t *UDPTracker) connectionID(ctx context.Context, conn *net.UDPConn) (uint64, error) {
	t.mu.Lock()
	if t.connID != 0 && time.Since(t.connIDSet) < connIDLifetime {
		id := t.connID
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	txID := rand.Uint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}
	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, errors.New("announce: short connect response")
	}
	if action := binary.BigEndian.Uint32(resp[0:4]); action != udpActionConnect {
		return 0, fmt.Errorf("announce: unexpected action %d in connect response", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return 0, errors.New("announce: transaction id mismatch")
	}
	id := binary.BigEndian.Uint64(resp[8:16])
	t.mu.Lock()
	t.connID = id
	t.connIDSet = time.Now()
	t.mu.Unlock()
	return id, nil
}

// Announce implements Tracker.
func (t *UDPTracker) Announce(ctx context.Context, ar Request) (*Response, error) {
	conn, _, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := t.connectionID(ctx, conn)
	if err != nil {
		return nil, err
	}

	txID := rand.Uint32()
	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], txID)
	copy(req[16:36], ar.InfoHash[:])
	copy(req[36:56], ar.PeerID[:])
	binary.BigEndian.PutUint64(req[56:64], uint64(ar.Downloaded))
	binary.BigEndian.PutUint64(req[64:72], uint64(ar.Left))
	binary.BigEndian.PutUint64(req[72:80], uint64(ar.Uploaded))
	// BEP 15 event codes: 0 none, 1 completed, 2 started, 3 stopped.
	var udpEvent uint32
	switch ar.Event {
	case EventCompleted:
		udpEvent = 1
	case EventStarted:
		udpEvent = 2
	case EventStopped:
		udpEvent = 3
	}
	binary.BigEndian.PutUint32(req[80:84], udpEvent)
	// req[84:88] IP = 0 (default)
	// req[88:92] key, left zero
	numWant := int32(-1)
	if ar.NumWant > 0 {
		numWant = int32(ar.NumWant)
	}
	binary.BigEndian.PutUint32(req[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(req[96:98], uint16(ar.Port))

	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	resp := make([]byte, 20+6*200)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, errors.New("announce: short announce response")
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return nil, errors.New("announce: transaction id mismatch")
	}
	if action == udpActionError {
		return nil, fmt.Errorf("announce: tracker error: %s", string(resp[8:n]))
	}
	if action != udpActionAnnounce {
		return nil, fmt.Errorf("announce: unexpected action %d", action)
	}
	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	leechers := int(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int(binary.BigEndian.Uint32(resp[16:20]))

	var addrs []*net.TCPAddr
	for i := 20; i+6 <= n; i += 6 {
		ip := net.IPv4(resp[i], resp[i+1], resp[i+2], resp[i+3])
		port := int(resp[i+4])<<8 | int(resp[i+5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
	}
	return &Response{Interval: interval, Leechers: leechers, Seeders: seeders, Peers: addrs}, nil
}

// Scrape implements Scraper.
func (t *UDPTracker) Scrape(ctx context.Context, infoHashes [][20]byte) (map[[20]byte]ScrapeResult, error) {
	if len(infoHashes) == 0 || len(infoHashes) > 74 {
		return nil, errors.New("announce: scrape batch size out of range")
	}
	conn, _, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := t.connectionID(ctx, conn)
	if err != nil {
		return nil, err
	}

	txID := rand.Uint32()
	req := make([]byte, 16+20*len(infoHashes))
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], udpActionScrape)
	binary.BigEndian.PutUint32(req[12:16], txID)
	for i, ih := range infoHashes {
		copy(req[16+i*20:], ih[:])
	}
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	resp := make([]byte, 8+12*len(infoHashes))
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, errors.New("announce: short scrape response")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return nil, errors.New("announce: transaction id mismatch")
	}
	out := make(map[[20]byte]ScrapeResult)
	for i := 0; i < len(infoHashes) && 8+i*12+12 <= n; i++ {
		base := 8 + i*12
		out[infoHashes[i]] = ScrapeResult{
			Seeders:   int(binary.BigEndian.Uint32(resp[base : base+4])),
			Completed: int(binary.BigEndian.Uint32(resp[base+4 : base+8])),
			Leechers:  int(binary.BigEndian.Uint32(resp[base+8 : base+12])),
		}
	}
	return out, nil
}
