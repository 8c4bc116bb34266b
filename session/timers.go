package session

import "time"

// Interval constants for the torrent event loop's periodic tickers.
// Grounded on the teacher's timers.go, generalized to the settings
// the new Settings struct exposes.
const (
	unchokeInterval           = 10 * time.Second
	optimisticUnchokeInterval = 30 * time.Second
	statsWriteInterval        = 5 * time.Second
	dialInterval              = time.Second
)
