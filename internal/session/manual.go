package session

import (
	"context"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/transport"
)

// ManualInput axes are normalized, X Y R in [-1,1], Z in [0,1].
type ManualInput struct {
	X, Y, Z, R float32
	Buttons    uint16
}

type ManualSource interface {
	// ok=false when input is stale, nothing is sent then.
	Manual() (ManualInput, bool)
}

type manualDriver struct {
	alive    *alive.Alive
	log      *log2.Log
	tr       transport.Transport
	src      ManualSource
	target   uint8
	interval time.Duration
	stat     *Stat
}

func startManual(tr transport.Transport, src ManualSource, target uint8, interval time.Duration, log *log2.Log, stat *Stat) *manualDriver {
	self := &manualDriver{
		alive:    alive.NewAlive(),
		log:      log,
		tr:       tr,
		src:      src,
		target:   target,
		interval: interval,
		stat:     stat,
	}
	self.alive.Add(1)
	go self.loop()
	return self
}

func (self *manualDriver) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

func (self *manualDriver) loop() {
	defer self.alive.Done()
	ctx := context.Background()
	tick := time.NewTicker(self.interval)
	defer tick.Stop()
	stopch := self.alive.StopChan()
	for {
		select {
		case <-stopch:
			return
		case <-tick.C:
		}
		in, ok := self.src.Manual()
		if !ok {
			continue
		}
		m := command.ManualControl(clampAxis(in.X, -1), clampAxis(in.Y, -1), clampAxis(in.Z, 0), clampAxis(in.R, -1), in.Buttons, self.target)
		if err := self.tr.Send(ctx, m); err != nil {
			self.stat.inc(&self.stat.ManualErrors)
			self.log.Errorf("manual control send err=%v", err)
			continue
		}
		self.stat.inc(&self.stat.ManualSent)
	}
}

// ManualControl does not clamp, wire value would wrap.
func clampAxis(v, min float32) float32 {
	if v != v { // NaN
		return 0
	}
	if v < min {
		return min
	}
	if v > 1 {
		return 1
	}
	return v
}
