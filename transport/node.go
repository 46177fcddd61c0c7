package transport

import (
	"context"
	"sync/atomic"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/topside/log2"
)

const DefaultRecvBuffer = 256

type Options struct {
	Endpoint    string
	SystemID    uint8
	ComponentID uint8
	OutVersion  Version
	RecvBuffer  int
	Log         *log2.Log
}

// Node is Transport over gomavlib node with one endpoint.
type Node struct {
	alive   *alive.Alive
	log     *log2.Log
	node    *gomavlib.Node
	recv    chan Inbound
	version uint32 // atomic Version
	stat    Stat
}

type Stat struct {
	Sent        uint32
	Received    uint32
	Dropped     uint32
	ParseErrors uint32
}

func Dial(opt Options) (*Node, error) {
	ep, err := ParseEndpoint(opt.Endpoint)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if opt.OutVersion == VersionUnknown {
		opt.OutVersion = V2
	}
	if opt.RecvBuffer <= 0 {
		opt.RecvBuffer = DefaultRecvBuffer
	}
	outVersion := gomavlib.V2
	if opt.OutVersion == V1 {
		outVersion = gomavlib.V1
	}

	n, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{ep},
		Dialect:        common.Dialect,
		OutVersion:     outVersion,
		OutSystemID:    opt.SystemID,
		OutComponentID: opt.ComponentID,
		// session owns keepalive
		HeartbeatDisable: true,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "transport endpoint=%s", opt.Endpoint)
	}
	self := &Node{
		alive:   alive.NewAlive(),
		log:     opt.Log,
		node:    n,
		recv:    make(chan Inbound, opt.RecvBuffer),
		version: uint32(opt.OutVersion),
	}
	self.alive.Add(1)
	go self.readLoop()
	self.log.Debugf("transport endpoint=%s sysid=%d compid=%d out=%s", opt.Endpoint, opt.SystemID, opt.ComponentID, opt.OutVersion)
	return self, nil
}

// Send queues message to all channels. Returns when node accepted it or ctx is done.
// After ctx expiry the message may still be written later; it is not counted as sent.
func (self *Node) Send(ctx context.Context, m message.Message) error {
	if !self.alive.IsRunning() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	done := make(chan error, 1)
	go func() { done <- self.node.WriteMessageAll(m) }()
	select {
	case err := <-done:
		if err != nil {
			return errors.Annotatef(err, "transport send %T", m)
		}
		atomic.AddUint32(&self.stat.Sent, 1)
		return nil
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "transport send %T", m)
	}
}

func (self *Node) TryRecv() (Inbound, error) {
	select {
	case in, ok := <-self.recv:
		if !ok {
			return Inbound{}, ErrClosed
		}
		return in, nil
	default:
		if !self.alive.IsRunning() {
			return Inbound{}, ErrClosed
		}
		return Inbound{}, ErrNoMessage
	}
}

func (self *Node) ProtocolVersion() Version {
	return Version(atomic.LoadUint32(&self.version))
}

func (self *Node) Stat() Stat {
	return Stat{
		Sent:        atomic.LoadUint32(&self.stat.Sent),
		Received:    atomic.LoadUint32(&self.stat.Received),
		Dropped:     atomic.LoadUint32(&self.stat.Dropped),
		ParseErrors: atomic.LoadUint32(&self.stat.ParseErrors),
	}
}

func (self *Node) Close() error {
	if self.alive.IsRunning() {
		self.alive.Stop()
		self.node.Close()
	}
	self.alive.Wait()
	return nil
}

func (self *Node) readLoop() {
	defer self.alive.Done()
	defer close(self.recv)
	stopch := self.alive.StopChan()
	events := self.node.Events()
	for {
		select {
		case <-stopch:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			self.handleEvent(e)
		}
	}
}

func (self *Node) handleEvent(e gomavlib.Event) {
	switch ev := e.(type) {
	case *gomavlib.EventFrame:
		v := frameVersion(ev.Frame)
		atomic.StoreUint32(&self.version, uint32(v))
		in := Inbound{
			Message:     ev.Message(),
			SystemID:    ev.SystemID(),
			ComponentID: ev.ComponentID(),
			Version:     v,
		}
		atomic.AddUint32(&self.stat.Received, 1)
		select {
		case self.recv <- in:
		default:
			// consumer is slow, newer samples supersede
			atomic.AddUint32(&self.stat.Dropped, 1)
		}
	case *gomavlib.EventParseError:
		atomic.AddUint32(&self.stat.ParseErrors, 1)
		self.log.Debugf("transport parse error=%v", ev.Error)
	case *gomavlib.EventChannelOpen:
		self.log.Infof("transport channel open %v", ev.Channel)
	case *gomavlib.EventChannelClose:
		self.log.Infof("transport channel close %v", ev.Channel)
	}
}

func frameVersion(f frame.Frame) Version {
	switch f.(type) {
	case *frame.V1Frame:
		return V1
	case *frame.V2Frame:
		return V2
	}
	return VersionUnknown
}
