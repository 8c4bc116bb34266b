package session

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/dragwire/torrentcore/internal/announce"
)

// trackerManager resolves tracker URLs into announce.Tracker values,
// caching one instance per URL so repeated announces to the same
// tracker across torrents reuse its HTTP client / UDP connection-id
// cache.
type trackerManager struct {
	mu       sync.Mutex
	trackers map[string]announce.Tracker
	dialer   proxy.Dialer
}

func newTrackerManager(socks5Proxy string) (*trackerManager, error) {
	tm := &trackerManager{trackers: make(map[string]announce.Tracker)}
	if socks5Proxy != "" {
		d, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, err
		}
		tm.dialer = d
	}
	return tm, nil
}

// canProxy reports whether a tracker URL of the given scheme can be
// routed through the configured SOCKS5 proxy. golang.org/x/net/proxy
// only dials TCP, so UDP trackers (BEP 15) can never be proxied; HTTP(S)
// trackers can, but only once a proxy dialer actually exists.
func (tm *trackerManager) canProxy(scheme string) bool {
	return tm.dialer != nil && strings.HasPrefix(scheme, "http")
}

func (tm *trackerManager) get(rawURL string, timeout time.Duration, userAgent string, useProxy bool) (announce.Tracker, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tr, ok := tm.trackers[rawURL]; ok {
		return tr, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var tr announce.Tracker
	switch {
	case strings.HasPrefix(u.Scheme, "http"):
		var d proxy.Dialer
		if useProxy {
			d = tm.dialer
		}
		tr = announce.NewHTTPTracker(rawURL, timeout, userAgent, d)
	case u.Scheme == "udp":
		tr, err = announce.NewUDPTracker(rawURL, timeout)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("trackermanager: unsupported tracker scheme " + u.Scheme)
	}
	tm.trackers[rawURL] = tr
	return tr, nil
}
