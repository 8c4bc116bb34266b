package announce

import (
	"context"
	"net"
	"time"

	"github.com/dragwire/torrentcore/internal/logger"
)

const defaultInterval = 30 * time.Minute

// TorrentInfo is the live state an announcer needs from its torrent
// on every announce; supplied via a request/response round trip so
// the announcer's goroutine never touches torrent state directly.
type TorrentInfo struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	BytesUploaded, BytesDownloaded, BytesLeft int64
	Completed  bool
}

// PeriodicalAnnouncer repeatedly announces a torrent to one tracker
// at the interval the tracker itself requests, delivering discovered
// peer addresses on PeersC.
type PeriodicalAnnouncer struct {
	tracker     Tracker
	requestInfo func() TorrentInfo
	numWant     int

	PeersC chan []*net.TCPAddr

	needMorePeersC chan bool
	completeC      chan struct{}
	closeC         chan struct{}
	doneC          chan struct{}

	log logger.Logger
}

// NewPeriodicalAnnouncer starts announcing tr in the background. The
// very first announce it sends carries event=started.
func NewPeriodicalAnnouncer(tr Tracker, numWant int, requestInfo func() TorrentInfo, log logger.Logger) *PeriodicalAnnouncer {
	a := &PeriodicalAnnouncer{
		tracker:        tr,
		requestInfo:    requestInfo,
		numWant:        numWant,
		PeersC:         make(chan []*net.TCPAddr),
		needMorePeersC: make(chan bool, 1),
		completeC:      make(chan struct{}, 1),
		closeC:         make(chan struct{}),
		doneC:          make(chan struct{}),
		log:            log,
	}
	go a.run()
	return a
}

// NeedMorePeers toggles whether this announcer keeps announcing for
// peers. Passing true triggers an immediate announce, after which
// announces repeat at the tracker's interval (never below its
// min_interval). While false, interval announces are skipped; a
// Complete request is still sent.
func (a *PeriodicalAnnouncer) NeedMorePeers(need bool) {
	select {
	case a.needMorePeersC <- need:
	default:
	}
}

// Complete requests an immediate out-of-cycle announce with
// event=completed, sent once the torrent finishes downloading.
func (a *PeriodicalAnnouncer) Complete() {
	select {
	case a.completeC <- struct{}{}:
	default:
	}
}

// Close stops the announcer without sending a stopped event; use
// StopAnnouncer for that.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

func (a *PeriodicalAnnouncer) run() {
	defer close(a.doneC)
	interval := time.Duration(0)
	needMore := true
	first := true
	for {
		event := EventNone
		select {
		case <-a.closeC:
			return
		case needMore = <-a.needMorePeersC:
		case <-a.completeC:
			event = EventCompleted
		case <-time.After(interval):
		}
		if event == EventNone && !needMore {
			interval = defaultInterval
			continue
		}
		deferredComplete := false
		if first {
			first = false
			if event == EventCompleted {
				// event=started must still go out as the torrent's
				// first announce; re-queue the completion for the
				// very next iteration.
				deferredComplete = true
			}
			event = EventStarted
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		ti := a.requestInfo()
		req := Request{
			InfoHash:   ti.InfoHash,
			PeerID:     ti.PeerID,
			Port:       ti.Port,
			Uploaded:   ti.BytesUploaded,
			Downloaded: ti.BytesDownloaded,
			Left:       ti.BytesLeft,
			Event:      event,
			NumWant:    a.numWant,
		}
		resp, err := a.tracker.Announce(ctx, req)
		cancel()
		if deferredComplete {
			a.Complete()
		}
		if err != nil {
			a.log.Debugln("announce failed:", err)
			interval = time.Minute
			continue
		}
		if len(resp.Peers) > 0 {
			select {
			case a.PeersC <- resp.Peers:
			case <-a.closeC:
				return
			}
		}
		interval = time.Duration(resp.Interval) * time.Second
		if interval == 0 {
			interval = defaultInterval
		}
		if resp.MinInterval > 0 {
			min := time.Duration(resp.MinInterval) * time.Second
			if interval < min {
				interval = min
			}
		}
	}
}

// StopAnnouncer sends a single "stopped" event to a tracker (best
// effort, bounded by timeout) then signals doneC.
type StopAnnouncer struct {
	doneC chan struct{}
}

// NewStopAnnouncer announces EventStopped to every tracker in trs and
// closes its done channel once all attempts finish or timeout elapses.
func NewStopAnnouncer(trs []Tracker, ti TorrentInfo, timeout time.Duration, log logger.Logger) *StopAnnouncer {
	s := &StopAnnouncer{doneC: make(chan struct{})}
	go func() {
		defer close(s.doneC)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		done := make(chan struct{}, len(trs))
		for _, tr := range trs {
			go func(tr Tracker) {
				_, err := tr.Announce(ctx, Request{
					InfoHash: ti.InfoHash,
					PeerID:   ti.PeerID,
					Port:     ti.Port,
					Left:     ti.BytesLeft,
					Event:    EventStopped,
				})
				if err != nil {
					log.Debugln("stopped announce failed:", err)
				}
				done <- struct{}{}
			}(tr)
		}
		for range trs {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()
	return s
}

// Close waits for the stopped announce to finish or abandons it once
// already signaled done.
func (s *StopAnnouncer) Close() {
	<-s.doneC
}

// SelectionPolicy controls how many tiers/trackers-per-tier are
// announced to concurrently.
type SelectionPolicy struct {
	AnnounceToAllTiers    bool
	AnnounceToAllTrackers bool
}

// SelectTrackers flattens a tiered tracker list into the set that
// should be announced to right now, per policy: normally only the
// first tracker of the first tier, falling over to the next tracker
// in a tier (and the next tier) on failure is handled by the caller
// retrying; this just expresses the "announce to all" overrides.
func SelectTrackers(tiers [][]Tracker, policy SelectionPolicy) []Tracker {
	var out []Tracker
	for _, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		if policy.AnnounceToAllTrackers {
			out = append(out, tier...)
		} else {
			out = append(out, tier[0])
		}
		if !policy.AnnounceToAllTiers {
			break
		}
	}
	return out
}
