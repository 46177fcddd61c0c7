package transport

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
)

// Codec converts typed messages of one dialect to raw payloads and back.
// Read only after construction, safe for concurrent use.
type Codec struct {
	rws map[uint32]*message.ReadWriter
}

func NewCodec(d *dialect.Dialect) (*Codec, error) {
	c := &Codec{rws: make(map[uint32]*message.ReadWriter, len(d.Messages))}
	for _, m := range d.Messages {
		rw, err := message.NewReadWriter(m)
		if err != nil {
			return nil, errors.Annotatef(err, "codec message id=%d", m.GetID())
		}
		c.rws[m.GetID()] = rw
	}
	return c, nil
}

func (self *Codec) Encode(m message.Message, v Version) (*message.MessageRaw, error) {
	if m == nil {
		return nil, errors.NotValidf("nil message")
	}
	rw, ok := self.rws[m.GetID()]
	if !ok {
		return nil, errors.NotFoundf("codec message id=%d", m.GetID())
	}
	return rw.Write(m, v.IsV2()), nil
}

func (self *Codec) Decode(raw *message.MessageRaw, v Version) (message.Message, error) {
	rw, ok := self.rws[raw.ID]
	if !ok {
		return nil, errors.NotFoundf("codec message id=%d", raw.ID)
	}
	m, err := rw.Read(raw, v.IsV2())
	return m, errors.Annotatef(err, "codec decode id=%d", raw.ID)
}

// RoundTrip passes message through wire representation.
func (self *Codec) RoundTrip(m message.Message, v Version) (message.Message, error) {
	raw, err := self.Encode(m, v)
	if err != nil {
		return nil, err
	}
	// copy, wire buffer must not alias caller memory
	raw = &message.MessageRaw{ID: raw.ID, Payload: append([]byte(nil), raw.Payload...)}
	return self.Decode(raw, v)
}
