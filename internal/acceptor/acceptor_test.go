package acceptor

import (
	"net"
	"testing"

	"github.com/dragwire/torrentcore/internal/logger"
)

func TestAcceptDeliversConn(t *testing.T) {
	a, err := New("127.0.0.1:0", logger.New("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	go a.Run()

	dialed, err := net.Dial("tcp", a.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer dialed.Close()

	conn := <-a.Conns()
	conn.Close()
}
