package detector

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single port probe. Probes target loopback, so
// anything slower than this means nobody is accepting on the port.
const DefaultDialTimeout = 250 * time.Millisecond

// PortDetector reports a service as alive when its TCP port on localhost
// accepts a connection. Liveness is purely occupancy based: it does not
// check which process owns the socket.
type PortDetector struct {
	Port    int
	Timeout time.Duration
}

func (d PortDetector) Alive() (bool, error) {
	if d.Port <= 0 || d.Port > 65535 {
		return false, fmt.Errorf("invalid port %d", d.Port)
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(d.Port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		// Connection refused or timeout: nothing is listening.
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d PortDetector) Describe() string { return "port:" + strconv.Itoa(d.Port) }
