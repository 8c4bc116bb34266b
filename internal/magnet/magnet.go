// Package magnet parses magnet: URIs per spec.md §6: v1 (btih) and v2
// (btmh) info-hashes, display name, tiered trackers, web seeds, peer
// endpoints, DHT bootstrap nodes, and the "select-only" piece filter.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMissingInfoHash is returned when neither xt=urn:btih: nor
	// xt=urn:btmh: is present.
	ErrMissingInfoHash = errors.New("magnet: missing_info_hash_in_uri")
	// ErrInvalidInfoHash is returned for a malformed hash value.
	ErrInvalidInfoHash = errors.New("magnet: invalid_info_hash")
)

// Range is an inclusive piece-index range parsed from the `so`
// parameter, e.g. "4-7" or the single-index form "2".
type Range struct {
	Low, High int
}

// Magnet is the parsed representation of a magnet URI.
type Magnet struct {
	InfoHash   [20]byte
	HasV1      bool
	InfoHashV2 [32]byte
	HasV2      bool
	Name       string
	// Trackers is tiered: tr.<N> groups into tier N when every tag
	// suffix present parses as an integer; otherwise each plain tr
	// becomes its own single-tracker tier and tr.<N> values are ignored.
	Trackers   [][]string
	WebSeeds   []string
	PeerAddrs  []*net.TCPAddr
	DHTNodes   []string
	SelectOnly []Range
}

// New parses a magnet: URI.
func New(uri string) (*Magnet, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errors.New("magnet: not a magnet uri")
	}
	q := u.Query()

	m := &Magnet{Name: q.Get("dn")}

	found := false
	for _, xt := range q["xt"] {
		switch {
		case strings.HasPrefix(xt, "urn:btih:"):
			h := xt[len("urn:btih:"):]
			if decoded, err2 := url.QueryUnescape(h); err2 == nil {
				h = decoded
			}
			b, err2 := decodeHashV1(h)
			if err2 != nil {
				return nil, err2
			}
			copy(m.InfoHash[:], b)
			m.HasV1 = true
			found = true
		case strings.HasPrefix(xt, "urn:btmh:"):
			h := xt[len("urn:btmh:"):]
			if decoded, err2 := url.QueryUnescape(h); err2 == nil {
				h = decoded
			}
			b, err2 := decodeHashV2(h)
			if err2 != nil {
				return nil, err2
			}
			copy(m.InfoHashV2[:], b)
			m.HasV2 = true
			found = true
		}
	}
	if !found {
		return nil, ErrMissingInfoHash
	}

	tiers, untagged := parseTrackers(q)
	if untagged {
		for _, tr := range q["tr"] {
			m.Trackers = append(m.Trackers, []string{tr})
		}
	} else {
		m.Trackers = tiers
	}

	m.WebSeeds = q["ws"]
	m.DHTNodes = q["dht"]

	for _, pe := range q["x.pe"] {
		addr, err2 := net.ResolveTCPAddr("tcp", pe)
		if err2 == nil {
			m.PeerAddrs = append(m.PeerAddrs, addr)
		}
	}

	if so := q.Get("so"); so != "" {
		m.SelectOnly = parseSelectOnly(so)
	}

	return m, nil
}

func decodeHashV1(s string) ([]byte, error) {
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, ErrInvalidInfoHash
		}
		return b, nil
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil || len(b) != 20 {
			return nil, ErrInvalidInfoHash
		}
		return b, nil
	default:
		return nil, ErrInvalidInfoHash
	}
}

func decodeHashV2(s string) ([]byte, error) {
	// multihash prefix "1220" = sha256, 32-byte digest.
	if len(s) != 68 || !strings.HasPrefix(s, "1220") {
		return nil, ErrInvalidInfoHash
	}
	b, err := hex.DecodeString(s[4:])
	if err != nil || len(b) != 32 {
		return nil, ErrInvalidInfoHash
	}
	return b, nil
}

// parseTrackers looks for tr.<N> tagged parameters. It returns
// (tiers, false) if at least one tr.<N> tag was seen and every tag
// suffix parsed as an integer (per spec.md §6); otherwise returns
// (nil, true) so the caller falls back to one tracker per tier.
func parseTrackers(q url.Values) ([][]string, bool) {
	type tagged struct {
		tier int
		url  string
	}
	var entries []tagged
	for k, vs := range q {
		if !strings.HasPrefix(k, "tr.") {
			continue
		}
		n, err := strconv.Atoi(k[len("tr."):])
		if err != nil {
			return nil, true
		}
		for _, v := range vs {
			entries = append(entries, tagged{tier: n, url: v})
		}
	}
	if len(entries) == 0 {
		return nil, true
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].tier < entries[j].tier })
	tierMap := map[int][]string{}
	var order []int
	for _, e := range entries {
		if _, ok := tierMap[e.tier]; !ok {
			order = append(order, e.tier)
		}
		tierMap[e.tier] = append(tierMap[e.tier], e.url)
	}
	sort.Ints(order)
	var tiers [][]string
	for _, t := range order {
		tiers = append(tiers, tierMap[t])
	}
	return tiers, false
}

// parseSelectOnly parses a comma-separated list of indices and
// inclusive ranges, e.g. "2,4-7". Reversed or otherwise malformed
// ranges are silently dropped, never returned as an error (spec.md §6).
func parseSelectOnly(so string) []Range {
	var ranges []Range
	for _, part := range strings.Split(so, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			loS, hiS := part[:idx], part[idx+1:]
			lo, err1 := strconv.Atoi(loS)
			if err1 != nil {
				continue
			}
			if hiS == "" {
				// "3-" has no upper bound and is dropped like any other
				// malformed range.
				continue
			}
			hi, err2 := strconv.Atoi(hiS)
			if err2 != nil || hi < lo {
				continue
			}
			ranges = append(ranges, Range{Low: lo, High: hi})
		} else {
			v, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			ranges = append(ranges, Range{Low: v, High: v})
		}
	}
	return ranges
}

// Resolve clamps SelectOnly ranges against a known piece count and
// returns the set of wanted piece indices. Ranges that are entirely
// out of bounds contribute nothing, per spec.md §8.12.
func (m *Magnet) Resolve(numPieces int) map[int]bool {
	wanted := make(map[int]bool)
	for _, r := range m.SelectOnly {
		hi := r.High
		if hi < 0 || hi >= numPieces {
			hi = numPieces - 1
		}
		if r.Low < 0 || r.Low >= numPieces || r.Low > hi {
			continue
		}
		for i := r.Low; i <= hi; i++ {
			wanted[i] = true
		}
	}
	return wanted
}
