package session

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

const DefaultRecvBackoff = 10 * time.Millisecond

// Ingest is session main loop: receive, classify, decode latest, report.
type Ingest struct {
	log     *log2.Log
	tr      transport.Transport
	sink    telemetry.Sink
	backoff time.Duration
	stat    *Stat
	slots   slots
}

func NewIngest(tr transport.Transport, sink telemetry.Sink, backoff time.Duration, log *log2.Log, stat *Stat) *Ingest {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	if backoff <= 0 {
		backoff = DefaultRecvBackoff
	}
	if stat == nil {
		stat = new(Stat)
	}
	return &Ingest{
		log:     log,
		tr:      tr,
		sink:    sink,
		backoff: backoff,
		stat:    stat,
	}
}

// Run returns nil when stop() reports true, otherwise first fatal error.
// stop is evaluated at the top of every iteration.
func (self *Ingest) Run(stop func() bool) error {
	for !stop() {
		in, err := self.tr.TryRecv()
		if err == transport.ErrNoMessage {
			self.stat.inc(&self.stat.IdlePolls)
			time.Sleep(self.backoff)
			continue
		}
		if err != nil {
			return errors.Annotate(err, "ingest recv")
		}
		self.stat.inc(&self.stat.Received)

		kind := telemetry.Classify(in.Message)
		if kind == telemetry.KindIgnored {
			self.stat.inc(&self.stat.Ignored)
			continue
		}
		self.stat.inc(&self.stat.Kinds[kind])
		self.slots.put(kind, in, time.Now())
		if err := self.dispatch(kind); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns most recent inbound message of kind and its arrival time.
func (self *Ingest) Latest(kind telemetry.Kind) (transport.Inbound, time.Time, bool) {
	if kind == telemetry.KindIgnored || kind >= telemetry.KindCount {
		return transport.Inbound{}, time.Time{}, false
	}
	in, seq, when := self.slots.get(kind)
	return in, when, seq != 0
}

func (self *Ingest) dispatch(kind telemetry.Kind) error {
	in, _, _ := self.slots.get(kind)
	switch kind {
	case telemetry.KindAttitude:
		a, err := telemetry.DecodeAttitude(in.Message)
		if err != nil {
			return self.mismatch(kind, in, err)
		}
		self.sink.Attitude(a)
	case telemetry.KindPosition:
		p, err := telemetry.DecodePosition(in.Message)
		if err != nil {
			return self.mismatch(kind, in, err)
		}
		self.sink.Position(p)
	default:
		return errors.Errorf("code error dispatch kind=%s", kind)
	}
	return nil
}

func (self *Ingest) mismatch(kind telemetry.Kind, in transport.Inbound, err error) error {
	err = errors.Annotatef(err, "code error classified kind=%s message=%T", kind, in.Message)
	self.log.Error(err)
	return err
}
