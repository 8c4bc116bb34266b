// Package boltdbresumer persists per-torrent resume state in a
// boltdb database, one top-level bucket per torrent id.
package boltdbresumer

import (
	"errors"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/bencode"

	"github.com/dragwire/torrentcore/internal/resumer"
)

var (
	keySpec      = []byte("spec")
	keyStarted   = []byte("started")
	keyBitfield  = []byte("bitfield")
	keyStats     = []byte("stats")
	keyCompleted = []byte("completed-at")
)

// TrackerSpec is the persisted state of one tracker URL.
type TrackerSpec struct {
	URL       string `bencode:"url"`
	FailLimit int    `bencode:"fail_limit"`
	Verified  bool   `bencode:"verified"`
	Source    string `bencode:"source,omitempty"`
	SendStats bool   `bencode:"send_stats"`
}

// PeerSpec is a resume-saved peer address, so a restart can dial
// known-good peers before the first tracker announce completes.
type PeerSpec struct {
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

// Spec is the full persisted state of one torrent. Fields unknown to
// this build of the engine (from a future version, or a differently
// configured build) are preserved in Extra and re-written verbatim
// on the next save, so upgrading/downgrading never silently drops
// user data.
type Spec struct {
	InfoHash        []byte                    `bencode:"info_hash"`
	Bitfield        []byte                    `bencode:"bitfield,omitempty"`
	Info            []byte                    `bencode:"info,omitempty"`
	Port            int                       `bencode:"port"`
	Name            string                    `bencode:"name"`
	Trackers        []TrackerSpec             `bencode:"trackers,omitempty"`
	Peers           []PeerSpec                `bencode:"peers,omitempty"`
	Dest            string                    `bencode:"dest"`
	FilePriorities  []int                     `bencode:"file_priorities,omitempty"`
	PiecePriorities []int                     `bencode:"piece_priorities,omitempty"`
	AddedAt         time.Time                 `bencode:"added_at"`
	CompletedAt     time.Time                 `bencode:"completed_at,omitempty"`
	BytesDownloaded int64                     `bencode:"bytes_downloaded"`
	BytesUploaded   int64                     `bencode:"bytes_uploaded"`
	BytesWasted     int64                     `bencode:"bytes_wasted"`
	SeededFor       time.Duration             `bencode:"seeded_for"`
	Private         bool                      `bencode:"private,omitempty"`
	Extra           map[string]bencode.RawMessage `bencode:"-"`
}

// Resumer reads and writes one torrent's resume state in torrentsBucket
// under key id within db.
type Resumer struct {
	db             *bolt.DB
	torrentsBucket []byte
	id             []byte
}

// New opens (creating if necessary) the resume sub-bucket for id.
func New(db *bolt.DB, torrentsBucket []byte, id []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		tb, err := tx.CreateBucketIfNotExists(torrentsBucket)
		if err != nil {
			return err
		}
		_, err = tb.CreateBucketIfNotExists(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db, torrentsBucket: torrentsBucket, id: id}, nil
}

func (r *Resumer) bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	tb := tx.Bucket(r.torrentsBucket)
	if tb == nil {
		return nil, errors.New("boltdbresumer: torrents bucket missing")
	}
	b := tb.Bucket(r.id)
	if b == nil {
		return nil, errors.New("boltdbresumer: torrent bucket missing")
	}
	return b, nil
}

// Write persists the full spec, preserving any keys in spec.Extra that
// this version of Spec doesn't itself define.
func (r *Resumer) Write(spec *Spec) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		data, err := marshalWithExtra(spec)
		if err != nil {
			return err
		}
		return b.Put(keySpec, data)
	})
}

// Read loads the full spec, populating Extra with any keys this
// version of Spec didn't decode directly.
func (r *Resumer) Read() (*Spec, error) {
	var spec Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		data := b.Get(keySpec)
		if data == nil {
			return errors.New("boltdbresumer: no spec saved")
		}
		return unmarshalWithExtra(data, &spec)
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// WriteBitfield implements resumer.Resumer.
func (r *Resumer) WriteBitfield(data []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyBitfield, data)
	})
}

// WriteStats implements resumer.Resumer.
func (r *Resumer) WriteStats(s resumer.Stats) error {
	data, err := bencode.EncodeBytes(s)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyStats, data)
	})
}

// WriteStarted implements resumer.Resumer.
func (r *Resumer) WriteStarted(started bool) error {
	val := []byte("0")
	if started {
		val = []byte("1")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyStarted, val)
	})
}

// WriteCompleted records the time the torrent first finished downloading.
func (r *Resumer) WriteCompleted(t time.Time) error {
	data, err := bencode.EncodeBytes(t)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.bucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyCompleted, data)
	})
}

// marshalWithExtra bencodes spec's known fields merged with spec.Extra
// for anything the caller wants preserved verbatim.
func marshalWithExtra(spec *Spec) ([]byte, error) {
	known, err := bencode.EncodeBytes(spec)
	if err != nil {
		return nil, err
	}
	if len(spec.Extra) == 0 {
		return known, nil
	}
	var merged map[string]bencode.RawMessage
	if err := bencode.DecodeBytes(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range spec.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return bencode.EncodeBytes(merged)
}

// unmarshalWithExtra decodes data into spec, then separately decodes
// it as a raw dict so any keys Spec doesn't define end up in Extra.
func unmarshalWithExtra(data []byte, spec *Spec) error {
	if err := bencode.DecodeBytes(data, spec); err != nil {
		return err
	}
	var raw map[string]bencode.RawMessage
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return err
	}
	known, err := bencode.EncodeBytes(spec)
	if err != nil {
		return err
	}
	var knownKeys map[string]bencode.RawMessage
	if err := bencode.DecodeBytes(known, &knownKeys); err != nil {
		return err
	}
	extra := make(map[string]bencode.RawMessage)
	for k, v := range raw {
		if _, ok := knownKeys[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		spec.Extra = extra
	}
	return nil
}
