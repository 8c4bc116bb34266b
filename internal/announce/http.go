package announce

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"
	"golang.org/x/net/proxy"
)

// HTTPTracker implements Tracker over the bencoded HTTP announce
// protocol.
type HTTPTracker struct {
	rawURL    string
	client    *http.Client
	userAgent string
}

// NewHTTPTracker builds an HTTP tracker client. If dialer is non-nil
// (proxy_tracker_connections enabled) it is used in place of the
// default dialer, so tracker traffic can be routed through the same
// SOCKS5 proxy as peer connections.
func NewHTTPTracker(rawURL string, timeout time.Duration, userAgent string, dialer proxy.Dialer) *HTTPTracker {
	transport := &http.Transport{}
	if dialer != nil {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return &HTTPTracker{
		rawURL:    rawURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (t *HTTPTracker) URL() string { return t.rawURL }

type httpAnnounceResponse struct {
	FailureReason  string             `bencode:"failure reason"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int                `bencode:"interval"`
	MinInterval    int                `bencode:"min interval"`
	Complete       int                `bencode:"complete"`
	Incomplete     int                `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
}

// Announce implements Tracker.
func (t *HTTPTracker) Announce(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	if req.Event != EventNone {
		q.Set("event", req.Event.String())
	}
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("announce: http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var ar httpAnnounceResponse
	if err := bencode.DecodeBytes(body, &ar); err != nil {
		return nil, err
	}
	if ar.FailureReason != "" {
		return nil, fmt.Errorf("announce: tracker failure: %s", ar.FailureReason)
	}
	peers, err := decodeCompactPeers(ar.Peers)
	if err != nil {
		return nil, err
	}
	return &Response{
		Interval:       ar.Interval,
		MinInterval:    ar.MinInterval,
		Seeders:        ar.Complete,
		Leechers:       ar.Incomplete,
		Peers:          peers,
		WarningMessage: ar.WarningMessage,
	}, nil
}

// decodeCompactPeers decodes the compact binary peers string (6 bytes
// per IPv4 peer). Any other encoding, such as a bencoded list of
// dicts, yields no peers and no error.
func decodeCompactPeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	var compact string
	if err := bencode.DecodeBytes(raw, &compact); err != nil {
		return nil, nil // not compact form; ignore
	}
	b := []byte(compact)
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("announce: invalid compact peers length %d", len(b))
	}
	var addrs []*net.TCPAddr
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := int(b[i+4])<<8 | int(b[i+5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
	}
	return addrs, nil
}
