// Package mqtt publishes telemetry records to broker.
// Records go through persistent queue first, network may be slow or absent,
// messages are delivered in background at least once.
package mqtt

import (
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
)

// denote value type in persistent queue bytes form
const qRecord byte = 1

type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type Options struct {
	Topic     string
	QueuePath string // spq.OnlyForTesting for memory
	SystemID  uint8
	RetryMin  time.Duration
	RetryMax  time.Duration
}

type Stat struct {
	Pushed    uint32
	Published uint32
	Failed    uint32
}

type Sink struct {
	alive   *alive.Alive
	log     *log2.Log
	opt     Options
	pub     Publisher
	q       *spq.Queue
	backoff helpers.Backoff
	stat    Stat
	now     func() time.Time
}

var _ telemetry.Sink = (*Sink)(nil)

func New(opt Options, pub Publisher, log *log2.Log) (*Sink, error) {
	if opt.QueuePath == "" {
		return nil, errors.NotValidf("mqtt queue path empty")
	}
	if opt.RetryMin <= 0 {
		opt.RetryMin = 100 * time.Millisecond
	}
	if opt.RetryMax < opt.RetryMin {
		opt.RetryMax = 30 * time.Second
	}
	q, err := spq.Open(opt.QueuePath)
	if err != nil {
		return nil, errors.Annotate(err, "mqtt queue")
	}
	self := &Sink{
		alive: alive.NewAlive(),
		log:   log,
		opt:   opt,
		pub:   pub,
		q:     q,
		backoff: helpers.Backoff{
			Min: opt.RetryMin,
			Max: opt.RetryMax,
			K:   2,
		},
		now: time.Now,
	}
	self.alive.Add(1)
	go self.qworker()
	return self, nil
}

func (self *Sink) Attitude(a telemetry.Attitude) {
	self.push(telemetry.NewAttitudeRecord(self.now(), self.opt.SystemID, a))
}

func (self *Sink) Position(p telemetry.PositionVelocityHeading) {
	self.push(telemetry.NewPositionRecord(self.now(), self.opt.SystemID, p))
}

func (self *Sink) Stat() Stat {
	return Stat{
		Pushed:    atomic.LoadUint32(&self.stat.Pushed),
		Published: atomic.LoadUint32(&self.stat.Published),
		Failed:    atomic.LoadUint32(&self.stat.Failed),
	}
}

// Close stops delivery. Undelivered records stay in queue for next run.
func (self *Sink) Close() error {
	self.alive.Stop()
	err := self.q.Close()
	self.alive.Wait()
	self.pub.Close()
	return errors.Annotate(err, "mqtt close")
}

func (self *Sink) push(r *telemetry.Record) {
	buf := proto.NewBuffer(make([]byte, 0, 128))
	err := buf.EncodeVarint(uint64(qRecord))
	if err == nil {
		err = buf.Marshal(r)
	}
	if err == nil {
		err = self.q.Push(buf.Bytes())
	}
	if err != nil {
		self.log.Errorf("mqtt queue push err=%v", err)
		return
	}
	atomic.AddUint32(&self.stat.Pushed, 1)
}

func (self *Sink) qworker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			del, err := self.qhandle(b)
			if err != nil {
				self.log.Errorf("mqtt qhandle b=%x err=%v", b, err)
			}
			if del {
				err = self.q.Delete(box)
			} else {
				err = self.q.DeletePush(box)
			}
			if err != nil && err != spq.ErrClosed {
				self.log.Errorf("mqtt queue del=%t err=%v", del, err)
			}
			if d := self.backoff.DelayAfter(del); d > 0 {
				select {
				case <-stopch:
					return
				case <-time.After(d):
				}
			}

		case spq.ErrClosed:
			select {
			case <-stopch: // success path
			default:
				self.log.Errorf("CRITICAL mqtt spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL mqtt spq err=%v", err)
			select {
			case <-stopch:
				return
			case <-time.After(self.opt.RetryMax):
			}
		}
	}
}

// qhandle returns true when item must be removed from queue.
func (self *Sink) qhandle(b []byte) (bool, error) {
	if len(b) < 2 || b[0] != qRecord {
		// retry will not help
		return true, errors.Errorf("unknown queue item")
	}
	// payload is Record as is, tag stripped
	if err := self.pub.Publish(self.opt.Topic, b[1:]); err != nil {
		atomic.AddUint32(&self.stat.Failed, 1)
		self.log.Debugf("mqtt publish err=%v", err)
		return false, nil
	}
	atomic.AddUint32(&self.stat.Published, 1)
	return true, nil
}
