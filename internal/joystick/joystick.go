// Package joystick reads Linux evdev joystick into normalized manual control input.
package joystick

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/inputevent-go"
	"github.com/temoto/topside/helpers/cacheval"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/log2"
)

// linux/input-event-codes.h
const (
	evKey        uint16 = 0x01
	evAbs        uint16 = 0x03
	btnJoystick  uint16 = 0x120
	buttonsCount        = 16
)

const (
	axisX = iota
	axisY
	axisZ
	axisR
	axisCount
)

type Config struct {
	Device string
	// evdev ABS codes
	AxisX, AxisY, AxisZ, AxisR uint16
	RawMin, RawMax             int32
	// axis not updated within Stale is reported inactive
	Stale time.Duration
}

// Joystick implements session.ManualSource.
type Joystick struct {
	alive   *alive.Alive
	log     *log2.Log
	r       io.ReadCloser
	config  Config
	codes   [axisCount]uint16
	axes    [axisCount]cacheval.Float32
	buttons uint32 // atomic
	events  uint32 // atomic
	failed  uint32 // atomic bool
}

var _ session.ManualSource = (*Joystick)(nil)

func Open(c Config, log *log2.Log) (*Joystick, error) {
	f, err := os.Open(c.Device)
	if err != nil {
		return nil, errors.Annotatef(err, "joystick device=%s", c.Device)
	}
	return New(f, c, log), nil
}

func New(r io.ReadCloser, c Config, log *log2.Log) *Joystick {
	if c.RawMin == 0 && c.RawMax == 0 {
		c.RawMin, c.RawMax = -32768, 32767
	}
	if c.Stale <= 0 {
		c.Stale = 500 * time.Millisecond
	}
	self := &Joystick{
		alive:  alive.NewAlive(),
		log:    log,
		r:      r,
		config: c,
		codes:  [axisCount]uint16{c.AxisX, c.AxisY, c.AxisZ, c.AxisR},
	}
	for i := range self.axes {
		self.axes[i].Init(c.Stale)
	}
	self.alive.Add(1)
	go self.readLoop()
	return self
}

// Manual returns latest axes. ok=false until first event or after device failure.
func (self *Joystick) Manual() (session.ManualInput, bool) {
	if atomic.LoadUint32(&self.failed) != 0 || atomic.LoadUint32(&self.events) == 0 {
		return session.ManualInput{}, false
	}
	return session.ManualInput{
		X:       self.axes[axisX].Get(),
		Y:       self.axes[axisY].Get(),
		Z:       self.axes[axisZ].Get(),
		R:       self.axes[axisR].Get(),
		Buttons: uint16(atomic.LoadUint32(&self.buttons)),
	}, true
}

// Active reports whether any axis moved recently.
func (self *Joystick) Active() bool {
	for i := range self.axes {
		if _, ok := self.axes[i].GetFresh(); ok {
			return true
		}
	}
	return false
}

func (self *Joystick) Close() error {
	self.alive.Stop()
	err := self.r.Close()
	self.alive.Wait()
	return errors.Annotate(err, "joystick close")
}

func (self *Joystick) readLoop() {
	defer self.alive.Done()
	for {
		ie, err := inputevent.ReadOne(self.r)
		if err != nil {
			atomic.StoreUint32(&self.failed, 1)
			if self.alive.IsRunning() && err != io.EOF {
				self.log.Errorf("joystick device=%s err=%v", self.config.Device, err)
			}
			return
		}
		self.handle(ie)
	}
}

func (self *Joystick) handle(ie inputevent.InputEvent) {
	switch ie.Type {
	case evAbs:
		for i, code := range self.codes {
			if ie.Code != code {
				continue
			}
			v := normalize(ie.Value, self.config.RawMin, self.config.RawMax)
			if i == axisZ {
				// throttle [0,1]
				v = (v + 1) / 2
			}
			self.axes[i].Set(v)
			atomic.AddUint32(&self.events, 1)
		}
	case evKey:
		if ie.Code < btnJoystick || ie.Code >= btnJoystick+buttonsCount {
			return
		}
		bit := uint32(1) << (ie.Code - btnJoystick)
		for {
			old := atomic.LoadUint32(&self.buttons)
			new := old | bit
			if ie.Value == int32(inputevent.KeyStateUp) {
				new = old &^ bit
			}
			if atomic.CompareAndSwapUint32(&self.buttons, old, new) {
				break
			}
		}
		atomic.AddUint32(&self.events, 1)
	}
}

// normalize maps raw range to [-1,1], clamped.
func normalize(raw, min, max int32) float32 {
	if raw <= min {
		return -1
	}
	if raw >= max {
		return 1
	}
	return float32(2*float64(raw-min)/float64(max-min) - 1)
}
