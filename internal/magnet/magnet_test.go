package magnet

import "testing"

func TestNewHexV1(t *testing.T) {
	uri := "magnet:?xt=urn:btih:cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd&dn=foo&tr=http://t/a&tr=http://t/b"
	m, err := New(uri)
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasV1 {
		t.Fatal("expected v1 hash")
	}
	if m.Name != "foo" {
		t.Fatalf("expected name foo, got %q", m.Name)
	}
	if len(m.Trackers) != 2 {
		t.Fatalf("expected 2 trackers, got %d", len(m.Trackers))
	}
}

func TestNewMissingHash(t *testing.T) {
	_, err := New("magnet:?dn=foo")
	if err != ErrMissingInfoHash {
		t.Fatalf("expected ErrMissingInfoHash, got %v", err)
	}
}

func TestNewInvalidHash(t *testing.T) {
	_, err := New("magnet:?xt=urn:btih:deadbeef")
	if err != ErrInvalidInfoHash {
		t.Fatalf("expected ErrInvalidInfoHash, got %v", err)
	}
}

func TestTieredTrackers(t *testing.T) {
	uri := "magnet:?xt=urn:btih:cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd&tr.0=http://a&tr.1=http://b&tr.0=http://c"
	m, err := New(uri)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Trackers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(m.Trackers))
	}
	if len(m.Trackers[0]) != 2 {
		t.Fatalf("expected tier 0 to have 2 trackers, got %d", len(m.Trackers[0]))
	}
}

func TestSelectOnlyReversedIgnored(t *testing.T) {
	uri := "magnet:?xt=urn:btih:cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd&so=7-4"
	m, err := New(uri)
	if err != nil {
		t.Fatal(err)
	}
	wanted := m.Resolve(10)
	if len(wanted) != 0 {
		t.Fatalf("expected no pieces wanted for reversed range, got %v", wanted)
	}
}

func TestSelectOnlyRange(t *testing.T) {
	uri := "magnet:?xt=urn:btih:cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd&so=2,4-6"
	m, err := New(uri)
	if err != nil {
		t.Fatal(err)
	}
	wanted := m.Resolve(10)
	for _, idx := range []int{2, 4, 5, 6} {
		if !wanted[idx] {
			t.Fatalf("expected piece %d to be wanted", idx)
		}
	}
	if len(wanted) != 4 {
		t.Fatalf("expected 4 wanted pieces, got %d", len(wanted))
	}
}
