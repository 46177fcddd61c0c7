package session

import (
	"github.com/temoto/alive/v2"
)

// RunFlag is "continue running" session state.
// Starts running, flips to stopped exactly once, never back.
type RunFlag struct {
	a *alive.Alive
}

func NewRunFlag() *RunFlag { return &RunFlag{a: alive.NewAlive()} }

func (self *RunFlag) IsRunning() bool { return self.a.IsRunning() }

// Stop is safe to call many times from any goroutine.
func (self *RunFlag) Stop() { self.a.Stop() }

func (self *RunFlag) StopChan() <-chan struct{} { return self.a.StopChan() }
