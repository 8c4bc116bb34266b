// Package session provides a BitTorrent client implementation that is
// capable of downloading and seeding multiple torrents in parallel.
package session

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	homedir "github.com/mitchellh/go-homedir"
	uuid "github.com/satori/go.uuid"

	"github.com/dragwire/torrentcore"
	"github.com/dragwire/torrentcore/internal/alert"
	"github.com/dragwire/torrentcore/internal/announce"
	"github.com/dragwire/torrentcore/internal/bitfield"
	"github.com/dragwire/torrentcore/internal/blocklist"
	"github.com/dragwire/torrentcore/internal/logger"
	"github.com/dragwire/torrentcore/internal/magnet"
	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/resumer"
	"github.com/dragwire/torrentcore/internal/resumer/boltdbresumer"
	"github.com/dragwire/torrentcore/internal/storage"
)

var (
	sessionBucket  = []byte("session")
	torrentsBucket = []byte("torrents")
)

// Settings is the engine configuration defined by the module root.
type Settings = torrentcore.Settings

// DefaultSettings is the module root's default configuration.
var DefaultSettings = torrentcore.DefaultSettings

// Session coordinates every torrent's lifecycle: resume-data
// persistence, port allocation, shared tracker connections, and the
// alert queue clients poll or subscribe to.
type Session struct {
	settings *Settings
	log      logger.Logger

	db        *bolt.DB
	blocklist *blocklist.Blocklist
	trackers  *trackerManager
	alerts    *alert.Queue

	mu       sync.RWMutex
	torrents map[string]*torrent

	mPorts    sync.Mutex
	freePorts map[int]struct{}

	closeC chan struct{}
}

// New opens (or creates) the resume database at settings.Database,
// restores any torrents it finds, and returns a running Session.
func New(settings *Settings) (*Session, error) {
	if settings.PortBegin >= settings.PortEnd {
		return nil, errors.New("session: invalid port range")
	}
	dbPath, err := homedir.Expand(settings.Database)
	if err != nil {
		return nil, err
	}
	dataDir, err := homedir.Expand(settings.DataDir)
	if err != nil {
		return nil, err
	}
	settings.DataDir = dataDir
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(dbPath, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("session: resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	closeDBOnErr := func() {
		if err != nil {
			db.Close()
		}
	}
	defer closeDBOnErr()

	var ids []string
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(sessionBucket); e != nil {
			return e
		}
		b, e := tx.CreateBucketIfNotExists(torrentsBucket)
		if e != nil {
			return e
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	tm, err := newTrackerManager(settings.SOCKS5Proxy)
	if err != nil {
		return nil, err
	}

	freePorts := make(map[int]struct{}, settings.PortEnd-settings.PortBegin)
	for p := settings.PortBegin; p < settings.PortEnd; p++ {
		freePorts[int(p)] = struct{}{}
	}

	s := &Session{
		settings:  settings,
		log:       logger.New("session"),
		db:        db,
		blocklist: blocklist.New(),
		trackers:  tm,
		alerts:    alert.NewQueue(settings.AlertQueueSize),
		torrents:  make(map[string]*torrent),
		freePorts: freePorts,
		closeC:    make(chan struct{}),
	}

	if settings.BlocklistPath != "" {
		go s.reloadBlocklistPeriodically()
	}

	if err := s.loadExistingTorrents(ids); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Session) reloadBlocklistPeriodically() {
	interval := s.settings.BlocklistUpdateInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.reloadBlocklist()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reloadBlocklist()
		case <-s.closeC:
			return
		}
	}
}

func (s *Session) reloadBlocklist() {
	f, err := os.Open(s.settings.BlocklistPath)
	if err != nil {
		s.log.Warningln("could not open blocklist:", err)
		return
	}
	defer f.Close()
	n, err := s.blocklist.Reload(f)
	if err != nil {
		s.log.Warningln("could not reload blocklist:", err)
		return
	}
	s.log.Infof("loaded %d blocklist entries", n)
}

// resolveTrackers turns a torrent's tiered tracker URL lists into live
// Tracker handles. When proxy_tracker_connections is set, any tracker
// URL the configured proxy cannot actually carry (UDP trackers, or any
// tracker at all if no SOCKS5 proxy is configured) is suppressed
// rather than announced to directly, and an anonymous_mode alert is
// raised naming it so a caller relying on the proxy for anonymity
// never silently leaks its address.
func (s *Session) resolveTrackers(torrentID string, tiers [][]string) [][]announce.Tracker {
	out := make([][]announce.Tracker, 0, len(tiers))
	for _, tier := range tiers {
		var trs []announce.Tracker
		for _, raw := range tier {
			if s.settings.ProxyTrackerConnections {
				u, err := url.Parse(raw)
				if err != nil {
					s.log.Debugln("skipping tracker", raw, err)
					continue
				}
				if !s.trackers.canProxy(u.Scheme) {
					s.alerts.Push(alert.NewAnonymousMode(torrentID, raw,
						"suppressed: proxy_tracker_connections is set but the configured proxy cannot carry this tracker's protocol"))
					continue
				}
			}
			tr, err := s.trackers.get(raw, s.settings.TrackerHTTPTimeout, s.settings.ExtensionHandshakeClientVersion, s.settings.ProxyTrackerConnections)
			if err != nil {
				s.log.Debugln("skipping tracker", raw, err)
				continue
			}
			trs = append(trs, tr)
		}
		if len(trs) > 0 {
			out = append(out, trs)
		}
	}
	return out
}

func (s *Session) loadExistingTorrents(ids []string) error {
	var loaded int
	var toStart []*torrent
	for _, id := range ids {
		res, err := boltdbresumer.New(s.db, torrentsBucket, []byte(id))
		if err != nil {
			s.log.Errorln(err)
			continue
		}
		started, err := s.hasStarted(id)
		if err != nil {
			s.log.Errorln(err)
			continue
		}
		spec, err := res.Read()
		if err != nil {
			s.log.Errorln(err)
			continue
		}

		var info *metainfo.Info
		var bf *bitfield.Bitfield
		if len(spec.Info) > 0 {
			info, err = metainfo.NewInfo(spec.Info)
			if err != nil {
				s.log.Errorln(err)
				continue
			}
			if len(spec.Bitfield) > 0 {
				bf, err = bitfield.NewBytes(spec.Bitfield, info.NumPieces)
				if err != nil {
					s.log.Errorln(err)
					continue
				}
			}
		}

		sto, err := storage.New(spec.Dest, info, s.settings.FilePoolSize)
		if err != nil {
			s.log.Errorln(err)
			continue
		}

		var infoHash [20]byte
		copy(infoHash[:], spec.InfoHash)
		trackerURLs := make([][]string, len(spec.Trackers))
		for i, tr := range spec.Trackers {
			trackerURLs[i] = []string{tr.URL}
		}

		t, err := newTorrent(s, id, infoHash, spec.Name, spec.Port, trackerURLs, sto, res,
			resumer.Stats{BytesDownloaded: spec.BytesDownloaded, BytesUploaded: spec.BytesUploaded, BytesWasted: spec.BytesWasted, SeededFor: spec.SeededFor},
			info, bf, spec.AddedAt)
		if err != nil {
			s.log.Errorln(err)
			continue
		}

		delete(s.freePorts, spec.Port)
		s.torrents[id] = t
		loaded++
		if started {
			toStart = append(toStart, t)
		}
	}
	s.log.Infof("loaded %d existing torrents", loaded)
	for _, t := range toStart {
		if err := t.Start(); err != nil {
			s.log.Errorln(err)
		}
	}
	return nil
}

func (s *Session) hasStarted(id string) (bool, error) {
	var started bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(torrentsBucket).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		started = bytes.Equal(b.Get([]byte("started")), []byte("1"))
		return nil
	})
	return started, err
}

func (s *Session) getPort() (int, error) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	for p := range s.freePorts {
		delete(s.freePorts, p)
		return p, nil
	}
	return 0, errors.New("session: no free port")
}

func (s *Session) releasePort(port int) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	s.freePorts[port] = struct{}{}
}

func newID() string {
	u := uuid.NewV4()
	return base64.RawURLEncoding.EncodeToString(u.Bytes())
}

// AddTorrent parses a .torrent file from r and starts downloading it.
func (s *Session) AddTorrent(r io.Reader) (*torrent, error) {
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	port, err := s.getPort()
	if err != nil {
		return nil, err
	}
	releaseOnErr := func() {
		if err != nil {
			s.releasePort(port)
		}
	}
	defer releaseOnErr()

	id := newID()
	res, err := boltdbresumer.New(s.db, torrentsBucket, []byte(id))
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(s.settings.DataDir, id)
	sto, err := storage.New(dest, mi.Info, s.settings.FilePoolSize)
	if err != nil {
		return nil, err
	}

	trackerURLs := mi.GetTrackers()
	now := time.Now().UTC()
	var infoHash [20]byte
	copy(infoHash[:], mi.Info.Hash[:])

	t, err := newTorrent(s, id, infoHash, mi.Info.Name, port, trackerURLs, sto, res, resumer.Stats{}, mi.Info, nil, now)
	if err != nil {
		return nil, err
	}

	spec := &boltdbresumer.Spec{
		InfoHash: infoHash[:],
		Dest:     sto.Dest(),
		Port:     port,
		Name:     mi.Info.Name,
		Trackers: trackerSpecs(trackerURLs),
		Info:     mi.Info.Bytes,
		AddedAt:  now,
		Private:  mi.Info.Private == 1,
	}
	if err = res.Write(spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.torrents[id] = t
	s.mu.Unlock()

	s.alerts.Push(alert.NewAddTorrent(id, nil))
	return t, t.Start()
}

func trackerSpecs(tiers [][]string) []boltdbresumer.TrackerSpec {
	var specs []boltdbresumer.TrackerSpec
	for _, tier := range tiers {
		for _, u := range tier {
			specs = append(specs, boltdbresumer.TrackerSpec{URL: u})
		}
	}
	return specs
}

// AddURI adds a torrent from either an HTTP(S) .torrent URL or a
// magnet: link.
func (s *Session) AddURI(uri string) (*torrent, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return s.addURL(uri)
	case "magnet":
		return s.addMagnet(uri)
	default:
		return nil, errors.New("session: unsupported uri scheme " + u.Scheme)
	}
}

func (s *Session) addURL(rawURL string) (*torrent, error) {
	resp, err := http.Get(rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return s.AddTorrent(resp.Body)
}

func (s *Session) addMagnet(link string) (*torrent, error) {
	ma, err := magnet.New(link)
	if err != nil {
		return nil, err
	}
	if !ma.HasV1 {
		return nil, errors.New("session: v2-only magnet links are not yet supported")
	}
	port, err := s.getPort()
	if err != nil {
		return nil, err
	}
	releaseOnErr := func() {
		if err != nil {
			s.releasePort(port)
		}
	}
	defer releaseOnErr()

	id := newID()
	res, err := boltdbresumer.New(s.db, torrentsBucket, []byte(id))
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(s.settings.DataDir, id)
	sto, err := storage.New(dest, nil, s.settings.FilePoolSize)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t, err := newTorrent(s, id, ma.InfoHash, ma.Name, port, ma.Trackers, sto, res, resumer.Stats{}, nil, nil, now)
	if err != nil {
		return nil, err
	}

	spec := &boltdbresumer.Spec{
		InfoHash: ma.InfoHash[:],
		Dest:     sto.Dest(),
		Port:     port,
		Name:     ma.Name,
		Trackers: trackerSpecs(ma.Trackers),
		AddedAt:  now,
	}
	if err = res.Write(spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.torrents[id] = t
	s.mu.Unlock()

	return t, t.Start()
}

// GetTorrent looks up a torrent by id.
func (s *Session) GetTorrent(id string) (*torrent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.torrents[id]
	return t, ok
}

// ListTorrents returns a snapshot of every torrent the session knows
// about.
func (s *Session) ListTorrents() []*torrent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		out = append(out, t)
	}
	return out
}

// RemoveTorrent stops id, deletes its resume data, and removes its
// downloaded files.
func (s *Session) RemoveTorrent(id string) error {
	s.mu.Lock()
	t, ok := s.torrents[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.torrents, id)
	s.mu.Unlock()

	t.Close()
	s.releasePort(t.port)

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).DeleteBucket([]byte(id))
	}); err != nil {
		return err
	}
	return t.storage.DeleteFiles(storage.DeleteOptions{})
}

// PopAlerts drains every alert produced since the last call.
func (s *Session) PopAlerts() []alert.Alert {
	return s.alerts.Pop()
}

// SetAlertCallback registers a callback invoked synchronously whenever
// a new alert is produced, in addition to it being queryable via
// PopAlerts.
func (s *Session) SetAlertCallback(cb func(alert.Alert)) {
	s.alerts.SetCallback(cb)
}

// Close stops every torrent and closes the resume database.
func (s *Session) Close() error {
	close(s.closeC)

	s.mu.Lock()
	var wg sync.WaitGroup
	wg.Add(len(s.torrents))
	for _, t := range s.torrents {
		go func(t *torrent) {
			defer wg.Done()
			t.Close()
		}(t)
	}
	s.torrents = nil
	s.mu.Unlock()
	wg.Wait()

	return s.db.Close()
}
