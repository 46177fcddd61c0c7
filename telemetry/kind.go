package telemetry

import (
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	MsgIDAttitude          uint32 = 30
	MsgIDGlobalPositionInt uint32 = 33
)

// Kind is closed set of message kinds the session acts upon.
type Kind uint8

const (
	KindIgnored Kind = iota
	KindAttitude
	KindPosition
	KindCount // array size, not a kind
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindAttitude:
		return "attitude"
	case KindPosition:
		return "position"
	}
	return "invalid"
}

func Classify(m message.Message) Kind {
	if m == nil {
		return KindIgnored
	}
	switch m.GetID() {
	case MsgIDAttitude:
		return KindAttitude
	case MsgIDGlobalPositionInt:
		return KindPosition
	}
	return KindIgnored
}
