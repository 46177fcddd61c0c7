// Package transport moves typed autopilot messages over a link.
// Implementations are safe for concurrent Send and TryRecv.
package transport

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
)

var (
	ErrNoMessage = fmt.Errorf("no message available")
	ErrClosed    = fmt.Errorf("transport closed")
)

type Version uint8

const (
	VersionUnknown Version = 0
	V1             Version = 1
	V2             Version = 2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "mavlink1"
	case V2:
		return "mavlink2"
	}
	return "unknown"
}

func (v Version) IsV2() bool { return v == V2 }

func ParseVersion(s string) (Version, error) {
	switch s {
	case "", "2", "v2", "mavlink2":
		return V2, nil
	case "1", "v1", "mavlink1":
		return V1, nil
	}
	return VersionUnknown, errors.NotValidf("protocol version=%q", s)
}

// Inbound is one received message with origin header.
type Inbound struct {
	Message     message.Message
	SystemID    uint8
	ComponentID uint8
	Version     Version
}

type Transport interface {
	Send(ctx context.Context, m message.Message) error
	// Non-blocking, returns ErrNoMessage when nothing is ready.
	TryRecv() (Inbound, error)
	// Version of last received frame, or configured outbound version before any.
	ProtocolVersion() Version
	Close() error
}
