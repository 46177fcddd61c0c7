package session

import (
	"sync"
	"time"

	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

// slots keeps only latest inbound message of each kind of interest.
// Newer message of same kind overwrites older, no history.
type slots struct {
	mu  sync.Mutex
	tab [telemetry.KindCount]slot
}

type slot struct {
	in   transport.Inbound
	seq  uint64
	when time.Time
}

func (self *slots) put(kind telemetry.Kind, in transport.Inbound, now time.Time) {
	self.mu.Lock()
	s := &self.tab[kind]
	s.in = in
	s.seq++
	s.when = now
	self.mu.Unlock()
}

func (self *slots) get(kind telemetry.Kind) (transport.Inbound, uint64, time.Time) {
	self.mu.Lock()
	s := self.tab[kind]
	self.mu.Unlock()
	return s.in, s.seq, s.when
}
