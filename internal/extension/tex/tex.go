// Package tex implements the lt_tex tracker-exchange extension:
// peers gossip the set of trackers they've accepted for a swarm, so a
// torrent can discover additional working trackers without relying on
// the original torrent file or magnet link alone.
package tex

import (
	"crypto/sha1"
	"sort"
	"strings"
	"time"

	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

// SendInterval is how often we push our accumulated tracker set to
// each peer that supports the extension.
const SendInterval = 2 * time.Minute

// Exchange accumulates the tracker set learned from all peers for one
// torrent, and remembers the hash of the last list it built so that
// BuildMessage never returns the same list twice in a row. That hash
// is shared by all peers; it is not kept per peer.
type Exchange struct {
	trackers map[string]struct{}
	lastHash string

	private bool
}

// New returns an empty Exchange. Exchanges for private torrents never
// send or accept any trackers (spec.md: tracker exchange is disabled
// for private torrents).
func New(private bool) *Exchange {
	return &Exchange{trackers: make(map[string]struct{}), private: private}
}

// AddLocal records a tracker this torrent itself was configured with,
// so it's eligible to be gossiped onward. Trackers merged in by
// HandleMessage join the same set and are gossiped onward too.
func (e *Exchange) AddLocal(url string) {
	if e.private {
		return
	}
	e.trackers[url] = struct{}{}
}

// ListHash returns the SHA-1 of the sorted tracker set, used to skip
// resending an unchanged list to peers we already sent it to.
func (e *Exchange) ListHash() string {
	urls := e.sorted()
	h := sha1.New()
	for _, u := range urls {
		h.Write([]byte(u))
		h.Write([]byte{0})
	}
	return string(h.Sum(nil))
}

func (e *Exchange) sorted() []string {
	urls := make([]string, 0, len(e.trackers))
	for u := range e.trackers {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// BuildMessage returns the lt_tex payload to send to a peer, or nil if
// the tracker set hasn't changed since the last time this Exchange
// built a message (short-circuiting on the list hash).
func (e *Exchange) BuildMessage() *peerprotocol.ExtensionTexMessage {
	if e.private {
		return nil
	}
	hash := e.ListHash()
	if hash == e.lastHash {
		return nil
	}
	e.lastHash = hash
	return &peerprotocol.ExtensionTexMessage{Added: e.sorted()}
}

// HandleMessage merges trackers a peer announced as newly-added,
// dropping any that look like uninitialized/garbage entries (no
// scheme) or that duplicate a tracker already known.
func (e *Exchange) HandleMessage(msg *peerprotocol.ExtensionTexMessage) []string {
	if e.private {
		return nil
	}
	var fresh []string
	for _, u := range msg.Added {
		if !strings.Contains(u, "://") {
			continue
		}
		if _, ok := e.trackers[u]; ok {
			continue
		}
		e.trackers[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}
