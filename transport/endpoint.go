package transport

import (
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/juju/errors"
)

// ParseEndpoint accepts connection strings:
//
//	udpin:0.0.0.0:14550      listen for datagrams
//	udpout:10.0.0.1:14550    send datagrams to address
//	udpbcast:192.168.1.255:14550
//	tcpin:0.0.0.0:5760
//	tcpout:10.0.0.1:5760
//	serial:/dev/ttyUSB0:57600
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.NotValidf("endpoint=%q expected kind:address", s)
	}
	kind, addr := parts[0], parts[1]
	switch kind {
	case "udpin":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "udpbcast":
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: addr}, nil
	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "tcpout":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "serial":
		i := strings.LastIndexByte(addr, ':')
		if i <= 0 {
			return nil, errors.NotValidf("endpoint=%q expected serial:device:baud", s)
		}
		baud, err := strconv.Atoi(addr[i+1:])
		if err != nil || baud <= 0 {
			return nil, errors.NotValidf("endpoint=%q baud", s)
		}
		return gomavlib.EndpointSerial{Device: addr[:i], Baud: baud}, nil
	}
	return nil, errors.NotSupportedf("endpoint kind=%s", kind)
}
