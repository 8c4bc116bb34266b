package blocklist

import (
	"net"
	"strings"
	"testing"
)

func TestReloadAndBlocked(t *testing.T) {
	bl := New()
	n, err := bl.Reload(strings.NewReader("10.0.0.0/8\n# comment\n\n192.168.1.1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 ranges, got %d", n)
	}
	if !bl.Blocked(net.ParseIP("10.1.2.3")) {
		t.Fatal("expected 10.1.2.3 to be blocked")
	}
	if !bl.Blocked(net.ParseIP("192.168.1.1")) {
		t.Fatal("expected 192.168.1.1 to be blocked")
	}
	if bl.Blocked(net.ParseIP("8.8.8.8")) {
		t.Fatal("expected 8.8.8.8 to not be blocked")
	}
}

func TestReloadReplacesPrevious(t *testing.T) {
	bl := New()
	if _, err := bl.Reload(strings.NewReader("10.0.0.0/8\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := bl.Reload(strings.NewReader("8.8.8.0/24\n")); err != nil {
		t.Fatal(err)
	}
	if bl.Blocked(net.ParseIP("10.1.2.3")) {
		t.Fatal("expected old range to be gone after reload")
	}
	if !bl.Blocked(net.ParseIP("8.8.8.8")) {
		t.Fatal("expected new range to be active")
	}
}
