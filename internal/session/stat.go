package session

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/temoto/topside/telemetry"
)

type Stat struct {
	KeepaliveSent   uint32
	KeepaliveErrors uint32
	Received        uint32
	Ignored         uint32
	IdlePolls       uint32
	ManualSent      uint32
	ManualErrors    uint32
	Errors          uint32
	Kinds           [telemetry.KindCount]uint32
}

func (self *Stat) inc(p *uint32) { atomic.AddUint32(p, 1) }

// Snapshot returns consistent per-field copy.
func (self *Stat) Snapshot() Stat {
	s := Stat{
		KeepaliveSent:   atomic.LoadUint32(&self.KeepaliveSent),
		KeepaliveErrors: atomic.LoadUint32(&self.KeepaliveErrors),
		Received:        atomic.LoadUint32(&self.Received),
		Ignored:         atomic.LoadUint32(&self.Ignored),
		IdlePolls:       atomic.LoadUint32(&self.IdlePolls),
		ManualSent:      atomic.LoadUint32(&self.ManualSent),
		ManualErrors:    atomic.LoadUint32(&self.ManualErrors),
		Errors:          atomic.LoadUint32(&self.Errors),
	}
	for i := range self.Kinds {
		s.Kinds[i] = atomic.LoadUint32(&self.Kinds[i])
	}
	return s
}

func (self Stat) String() string {
	c := func(x uint32) string { return humanize.Comma(int64(x)) }
	return fmt.Sprintf("keepalive=%s keepalive_errors=%s received=%s attitude=%s position=%s ignored=%s idle=%s manual=%s manual_errors=%s errors=%s",
		c(self.KeepaliveSent), c(self.KeepaliveErrors),
		c(self.Received), c(self.Kinds[telemetry.KindAttitude]), c(self.Kinds[telemetry.KindPosition]),
		c(self.Ignored), c(self.IdlePolls),
		c(self.ManualSent), c(self.ManualErrors),
		c(self.Errors))
}
