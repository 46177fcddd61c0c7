package session

import (
	"context"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/transport"
)

const DefaultKeepaliveInterval = 1 * time.Second

// Keepalive periodically announces this endpoint alive.
// Send failure is reported and retried without delay.
type Keepalive struct {
	alive    *alive.Alive
	log      *log2.Log
	tr       transport.Transport
	interval time.Duration
	stat     *Stat
	lastOk   atomic_clock.Clock
}

func StartKeepalive(tr transport.Transport, interval time.Duration, log *log2.Log, stat *Stat) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	if stat == nil {
		stat = new(Stat)
	}
	self := &Keepalive{
		alive:    alive.NewAlive(),
		log:      log,
		tr:       tr,
		interval: interval,
		stat:     stat,
	}
	self.alive.Add(1)
	go self.loop()
	return self
}

// Stop returns after driver goroutine exited. Idempotent.
func (self *Keepalive) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

// Since last successful send, 0 if never.
func (self *Keepalive) SinceLastOk() time.Duration {
	if self.lastOk.IsZero() {
		return 0
	}
	return atomic_clock.Since(&self.lastOk)
}

func (self *Keepalive) loop() {
	defer self.alive.Done()
	ctx := context.Background()
	stopch := self.alive.StopChan()
	tmr := time.NewTimer(self.interval)
	defer tmr.Stop()
	failing := false
	for self.alive.IsRunning() {
		if err := self.tr.Send(ctx, command.Keepalive()); err != nil {
			self.stat.inc(&self.stat.KeepaliveErrors)
			if !failing {
				self.log.Errorf("keepalive send err=%v", err)
				failing = true
			} else {
				self.log.Debugf("keepalive send err=%v", err)
			}
			continue
		}
		if failing {
			self.log.Infof("keepalive send recovered")
			failing = false
		}
		self.stat.inc(&self.stat.KeepaliveSent)
		self.lastOk.SetNow()

		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		tmr.Reset(self.interval)
		select {
		case <-stopch:
			return
		case <-tmr.C:
		}
	}
}
