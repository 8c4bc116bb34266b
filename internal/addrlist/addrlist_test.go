package addrlist

import (
	"net"
	"testing"
)

func tcpAddr(s string) *net.TCPAddr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestPushPopFIFO(t *testing.T) {
	l := New(0)
	l.Push(tcpAddr("1.2.3.4:6881"), Tracker)
	l.Push(tcpAddr("5.6.7.8:6881"), DHT)
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
	a := l.Pop()
	if a == nil || a.String() != "1.2.3.4:6881" {
		t.Fatalf("expected first pushed address, got %v", a)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", l.Len())
	}
}

func TestPushDedupes(t *testing.T) {
	l := New(0)
	l.Push(tcpAddr("1.2.3.4:6881"), Tracker)
	l.Push(tcpAddr("1.2.3.4:6881"), Manual)
	if l.Len() != 1 {
		t.Fatalf("expected dedup to keep 1 entry, got %d", l.Len())
	}
}

func TestPushRespectsCapacity(t *testing.T) {
	l := New(1)
	l.Push(tcpAddr("1.2.3.4:6881"), Tracker)
	l.Push(tcpAddr("5.6.7.8:6881"), Tracker)
	if l.Len() != 1 {
		t.Fatalf("expected capacity cap of 1, got %d", l.Len())
	}
}

func TestPopEmptyReturnsNil(t *testing.T) {
	l := New(0)
	if a := l.Pop(); a != nil {
		t.Fatalf("expected nil, got %v", a)
	}
}

func TestReset(t *testing.T) {
	l := New(0)
	l.Push(tcpAddr("1.2.3.4:6881"), Tracker)
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("expected empty after reset, got %d", l.Len())
	}
}
