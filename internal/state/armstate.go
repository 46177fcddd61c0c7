package state

import (
	"bytes"
	"io"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/topside/log2"
)

var (
	armStateArmed    = []byte("armed")
	armStateDisarmed = []byte("disarmed")
)

type armStorage interface {
	Read() ([]byte, error)
	io.Writer
}

// ArmState persists whether last session left vehicle armed.
// Survives power loss, implements session.ArmRecorder.
type ArmState struct {
	sync.Mutex
	log     *log2.Log
	storage armStorage
	// previous process exited after arm without recorded disarm
	PreviousArmed bool
}

func OpenArmState(root string, log *log2.Log) (*ArmState, error) {
	if root == "" {
		return nil, errors.Errorf("arm state root=empty")
	}
	self := &ArmState{
		log: log,
		storage: extremofile.New(extremofile.Config{
			Dir:      filepath.Join(root, "armstate"),
			DirPerm:  0755,
			FilePerm: 0644,
		}),
	}
	b, err := self.storage.Read()
	if extremofile.IsCritical(err) {
		return nil, errors.Annotate(err, "arm state read")
	}
	if err != nil {
		self.log.Errorf("arm state ignore non-critical storage err=%v", err)
	}
	if bytes.Equal(b, armStateArmed) {
		self.PreviousArmed = true
		self.log.Errorf("arm state: previous session ended ARMED without recorded disarm")
	}
	return self, nil
}

func (self *ArmState) Armed() error    { return self.write(armStateArmed) }
func (self *ArmState) Disarmed() error { return self.write(armStateDisarmed) }

func (self *ArmState) write(b []byte) error {
	self.Lock()
	defer self.Unlock()
	_, err := self.storage.Write(b)
	return errors.Annotatef(err, "arm state write=%s", b)
}
