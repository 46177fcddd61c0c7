package transport

// Public API to easy create transport stubs to test your code.
import (
	"context"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
)

// Mock is in-memory Transport. Every message passes through Codec
// both ways, like it would on a real link.
type Mock struct {
	mu      sync.Mutex
	codec   *Codec
	version Version
	inbox   []mockEntry
	sent    []message.Message
	sendErr func(message.Message) error
	onSend  func(message.Message)
	closed  bool
}

type mockEntry struct {
	raw      *message.MessageRaw
	err      error
	sysid    uint8
	compid   uint8
	version  Version
	original message.Message
}

var _ Transport = (*Mock)(nil)

var mockCodec struct {
	sync.Once
	c   *Codec
	err error
}

func CommonCodec() (*Codec, error) {
	mockCodec.Do(func() {
		mockCodec.c, mockCodec.err = NewCodec(common.Dialect)
	})
	return mockCodec.c, mockCodec.err
}

func NewMock(v Version) (*Mock, error) {
	c, err := CommonCodec()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Mock{codec: c, version: v}, nil
}

// Enqueue makes message available to TryRecv, in order.
func (self *Mock) Enqueue(sysid, compid uint8, m message.Message) error {
	raw, err := self.codec.Encode(m, self.version)
	if err != nil {
		return errors.Trace(err)
	}
	raw = &message.MessageRaw{ID: raw.ID, Payload: append([]byte(nil), raw.Payload...)}
	self.mu.Lock()
	self.inbox = append(self.inbox, mockEntry{raw: raw, sysid: sysid, compid: compid, version: self.version})
	self.mu.Unlock()
	return nil
}

// EnqueueRaw skips codec, receiver gets exactly this value.
func (self *Mock) EnqueueRaw(m message.Message) {
	self.mu.Lock()
	self.inbox = append(self.inbox, mockEntry{original: m, version: self.version})
	self.mu.Unlock()
}

// EnqueueError makes TryRecv return err at this queue position.
func (self *Mock) EnqueueError(err error) {
	self.mu.Lock()
	self.inbox = append(self.inbox, mockEntry{err: err})
	self.mu.Unlock()
}

func (self *Mock) Pending() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.inbox)
}

// SetSendError installs hook deciding Send result, nil restores success.
func (self *Mock) SetSendError(f func(message.Message) error) {
	self.mu.Lock()
	self.sendErr = f
	self.mu.Unlock()
}

// OnSend hook runs after successful send, outside lock.
func (self *Mock) OnSend(f func(message.Message)) {
	self.mu.Lock()
	self.onSend = f
	self.mu.Unlock()
}

func (self *Mock) Send(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return ErrClosed
	}
	if self.sendErr != nil {
		if err := self.sendErr(m); err != nil {
			self.mu.Unlock()
			return err
		}
	}
	self.mu.Unlock()

	wire, err := self.codec.RoundTrip(m, self.version)
	if err != nil {
		return errors.Annotate(err, "mock send")
	}

	self.mu.Lock()
	self.sent = append(self.sent, wire)
	hook := self.onSend
	self.mu.Unlock()
	if hook != nil {
		hook(wire)
	}
	return nil
}

func (self *Mock) TryRecv() (Inbound, error) {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return Inbound{}, ErrClosed
	}
	if len(self.inbox) == 0 {
		self.mu.Unlock()
		return Inbound{}, ErrNoMessage
	}
	e := self.inbox[0]
	self.inbox[0] = mockEntry{}
	self.inbox = self.inbox[1:]
	self.mu.Unlock()

	if e.err != nil {
		return Inbound{}, e.err
	}
	in := Inbound{SystemID: e.sysid, ComponentID: e.compid, Version: e.version}
	if e.original != nil {
		in.Message = e.original
		return in, nil
	}
	m, err := self.codec.Decode(e.raw, e.version)
	if err != nil {
		return Inbound{}, errors.Trace(err)
	}
	in.Message = m
	return in, nil
}

func (self *Mock) ProtocolVersion() Version { return self.version }

func (self *Mock) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

// Sent returns copy of successfully sent messages, as decoded from wire.
func (self *Mock) Sent() []message.Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]message.Message, len(self.sent))
	copy(out, self.sent)
	return out
}

// SentCount counts sent messages matching f, nil f counts all.
func (self *Mock) SentCount(f func(message.Message) bool) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := 0
	for _, m := range self.sent {
		if f == nil || f(m) {
			n++
		}
	}
	return n
}
