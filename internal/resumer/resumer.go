// Package resumer defines the contract for persisting and restoring a
// torrent's state across restarts: piece bitmap, transfer stats, and
// enough metadata to resume without re-announcing from scratch.
package resumer

import "time"

// Stats are the cumulative counters a Resumer persists periodically so
// lifetime totals survive a restart.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}

// Resumer is implemented by a torrent's persistence backend.
type Resumer interface {
	WriteBitfield(data []byte) error
	WriteStats(s Stats) error
	WriteStarted(started bool) error
}
