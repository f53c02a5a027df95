package utils

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Listener wraps a net.Listener and enables TCP keep-alive on accepted
// connections.
type Listener struct {
	net.Listener
	KeepAlive time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok && l.KeepAlive > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(l.KeepAlive)
	}
	return c, nil
}

func NewListener(addr string, keepAlive time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Listener{
		Listener:  listener,
		KeepAlive: keepAlive,
	}, nil
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}
