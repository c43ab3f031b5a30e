package sip

import (
	"errors"
	"net"
	"strconv"
)

// ErrNetworkNotSuported is returned by Server.ListenAndServe/ListenAndServeTLS
// for a network name none of the transportTCP/transportUDP/transportWS
// family knows how to serve.
var ErrNetworkNotSuported = errors.New("protocol not supported")

type IPAddr struct {
	IP   net.IP
	Port int
}

type Transport interface {
	WriteMsg(msg Message) error
}

func ParseAddr(addr string) (host string, port int, err error) {
	host, pstr, err := net.SplitHostPort(addr)
	if err != nil {
		return host, port, err
	}

	// In case we are dealing with some named ports this should be called
	// net.LookupPort(network)

	port, err = strconv.Atoi(pstr)
	return host, port, err
}
