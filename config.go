// Package torrentcore implements the core of a BitTorrent client: a
// session coordinator managing many torrents, each driven by a piece
// picker, a pool of peer-wire connections, a disk cache, and a
// tracker/announce subsystem.
package torrentcore

import (
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Settings holds every tunable of the engine. Zero values are not
// meaningful defaults; always start from DefaultSettings and override.
type Settings struct {
	// Database is the path to the boltdb file backing session and
	// resume-data state.
	Database string `yaml:"database"`
	// DataDir is the default destination directory for torrent data
	// when a torrent is added without an explicit destination.
	DataDir string `yaml:"data_dir"`

	PortBegin uint16 `yaml:"port_begin"`
	PortEnd   uint16 `yaml:"port_end"`

	MaxPeerAccept int `yaml:"max_peer_accept"`
	MaxPeerDial   int `yaml:"max_peer_dial"`

	UnchokedPeers           int `yaml:"unchoke_slots_limit"`
	OptimisticUnchokedPeers int `yaml:"optimistic_unchoke_slots_limit"`

	PeerConnectTimeout   time.Duration `yaml:"peer_connect_timeout"`
	PeerHandshakeTimeout time.Duration `yaml:"peer_handshake_timeout"`
	PeerReadBufferSize   int           `yaml:"peer_read_buffer_size"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	PieceTimeout         time.Duration `yaml:"piece_timeout"`
	MaxOutRequestQueue   int           `yaml:"max_out_request_queue"`
	MaxInRequestQueue    int           `yaml:"max_allowed_in_request_queue"`

	CacheSize           int64         `yaml:"cache_size"`
	ReadCacheLineSize   uint32        `yaml:"read_cache_line_size"`
	WriteCacheLineSize  uint32        `yaml:"write_cache_line_size"`
	CacheExpiry         time.Duration `yaml:"cache_expiry"`
	AllowPartialWrites  bool          `yaml:"allow_partial_disk_writes"`
	AIOThreads          int           `yaml:"aio_threads"`
	FilePoolSize        int           `yaml:"file_pool_size"`
	MaxQueuedDiskBytes  int64         `yaml:"max_queued_disk_bytes"`
	MaxOpenFiles        int           `yaml:"max_open_files"`

	BitfieldWriteInterval time.Duration `yaml:"bitfield_write_interval"`

	StopTrackerTimeout     time.Duration `yaml:"stop_tracker_timeout"`
	AnnounceToAllTrackers  bool          `yaml:"announce_to_all_trackers"`
	AnnounceToAllTiers     bool          `yaml:"announce_to_all_tiers"`
	TrackerFailLimit       int           `yaml:"tracker_fail_limit"`
	TrackerNumWant         int           `yaml:"tracker_num_want"`
	TrackerHTTPTimeout     time.Duration `yaml:"tracker_http_timeout"`

	ProxyPeerConnections    bool   `yaml:"proxy_peer_connections"`
	ProxyTrackerConnections bool   `yaml:"proxy_tracker_connections"`
	SOCKS5Proxy             string `yaml:"socks5_proxy"`

	ExtensionHandshakeClientVersion string `yaml:"extension_handshake_client_version"`

	AlertQueueSize int `yaml:"alert_queue_size"`

	// BlocklistPath, when non-empty, points to a blocklist file (one
	// CIDR or bare IP per line; blank lines and '#' comments skipped)
	// that is loaded at startup and reloaded every
	// BlocklistUpdateInterval.
	BlocklistPath           string        `yaml:"blocklist_path"`
	BlocklistUpdateInterval time.Duration `yaml:"blocklist_update_interval"`

	Encryption struct {
		DisableOutgoing bool `yaml:"disable_outgoing"`
		ForceOutgoing   bool `yaml:"force_outgoing"`
		ForceIncoming   bool `yaml:"force_incoming"`
	} `yaml:"encryption"`
}

// DefaultSettings mirrors the defaults a new Session is built with
// when the caller does not load a config file.
var DefaultSettings = Settings{
	Database: "session.db",
	DataDir:  ".",

	PortBegin: 6881,
	PortEnd:   6889,

	MaxPeerAccept: 50,
	MaxPeerDial:   80,

	UnchokedPeers:           4,
	OptimisticUnchokedPeers: 1,

	PeerConnectTimeout:   5 * time.Second,
	PeerHandshakeTimeout: 10 * time.Second,
	PeerReadBufferSize:   4096,
	RequestTimeout:       20 * time.Second,
	PieceTimeout:         30 * time.Second,
	MaxOutRequestQueue:   250,
	MaxInRequestQueue:    250,

	CacheSize:          256 << 20,
	ReadCacheLineSize:  128 << 10,
	WriteCacheLineSize: 128 << 10,
	CacheExpiry:        5 * time.Minute,
	AllowPartialWrites: false,
	AIOThreads:         4,
	FilePoolSize:       16,
	MaxQueuedDiskBytes: 64 << 20,
	MaxOpenFiles:       0,

	BitfieldWriteInterval: 30 * time.Second,

	StopTrackerTimeout:    5 * time.Second,
	AnnounceToAllTrackers: false,
	AnnounceToAllTiers:    false,
	TrackerFailLimit:      3,
	TrackerNumWant:        50,
	TrackerHTTPTimeout:    30 * time.Second,

	ProxyPeerConnections:    false,
	ProxyTrackerConnections: false,

	ExtensionHandshakeClientVersion: "torrentcore 1.0",

	AlertQueueSize: 1000,

	BlocklistUpdateInterval: 24 * time.Hour,
}

// LoadSettings reads filename as YAML over DefaultSettings, returning
// DefaultSettings unchanged if filename does not exist.
func LoadSettings(filename string) (*Settings, error) {
	s := DefaultSettings
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
