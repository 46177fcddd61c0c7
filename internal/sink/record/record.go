// Package record is flight recorder: telemetry samples in sqlite.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
)

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	endpoint TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	time_nano INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_session_time ON samples(session_id, time_nano);
`

const (
	insertSessionSQL = `INSERT INTO sessions (started_at, endpoint) VALUES (?, ?)`
	insertSampleSQL  = `INSERT INTO samples (session_id, time_nano, kind, payload) VALUES (?, ?, ?, ?)`
	selectRecentSQL  = `SELECT payload FROM samples ORDER BY id DESC LIMIT ?`
	countSamplesSQL  = `SELECT COUNT(*) FROM samples`
	countSessionsSQL = `SELECT COUNT(*) FROM sessions`
)

type Store struct {
	mu        sync.Mutex
	log       *log2.Log
	path      string
	db        *sql.DB
	insert    *sql.Stmt
	sessionID int64
	sysid     uint8
	saveErrs  uint32
	now       func() time.Time
}

var _ telemetry.Sink = (*Store)(nil)

func Open(path string, log *log2.Log) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Annotatef(err, "record mkdir=%s", dir)
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, errors.Annotate(err, "record open")
	}
	// single writer
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "record init schema")
	}
	insert, err := db.Prepare(insertSampleSQL)
	if err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "record prepare")
	}
	return &Store{
		log:    log,
		path:   path,
		db:     db,
		insert: insert,
		now:    time.Now,
	}, nil
}

// BeginSession starts new sample group. Samples before BeginSession are dropped.
func (self *Store) BeginSession(ctx context.Context, endpoint string, sysid uint8) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	res, err := self.db.ExecContext(ctx, insertSessionSQL, self.now().UnixNano(), endpoint)
	if err != nil {
		return errors.Annotate(err, "record begin session")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Annotate(err, "record begin session")
	}
	self.sessionID = id
	self.sysid = sysid
	self.log.Debugf("record session=%d path=%s", id, self.path)
	return nil
}

func (self *Store) Attitude(a telemetry.Attitude) {
	self.save(func(t time.Time, sysid uint8) *telemetry.Record { return telemetry.NewAttitudeRecord(t, sysid, a) })
}

func (self *Store) Position(p telemetry.PositionVelocityHeading) {
	self.save(func(t time.Time, sysid uint8) *telemetry.Record { return telemetry.NewPositionRecord(t, sysid, p) })
}

func (self *Store) save(build func(time.Time, uint8) *telemetry.Record) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.sessionID == 0 {
		return
	}
	r := build(self.now(), self.sysid)
	b, err := proto.Marshal(r)
	if err == nil {
		_, err = self.insert.Exec(self.sessionID, r.TimeNano, r.Kind, b)
	}
	if err != nil {
		// first error loud, rest debug
		if atomic.AddUint32(&self.saveErrs, 1) == 1 {
			self.log.Errorf("record save err=%v", err)
		} else {
			self.log.Debugf("record save err=%v", err)
		}
	}
}

func (self *Store) Errors() uint32 { return atomic.LoadUint32(&self.saveErrs) }

// Recent returns up to limit newest samples, newest first.
func (self *Store) Recent(ctx context.Context, limit int) ([]*telemetry.Record, error) {
	rows, err := self.db.QueryContext(ctx, selectRecentSQL, limit)
	if err != nil {
		return nil, errors.Annotate(err, "record query recent")
	}
	defer rows.Close()
	out := make([]*telemetry.Record, 0, limit)
	for rows.Next() {
		var b []byte
		if err = rows.Scan(&b); err != nil {
			return nil, errors.Annotate(err, "record scan")
		}
		r := &telemetry.Record{}
		if err = proto.Unmarshal(b, r); err != nil {
			return nil, errors.Annotate(err, "record decode")
		}
		out = append(out, r)
	}
	return out, errors.Trace(rows.Err())
}

type Summary struct {
	Sessions  int64
	Samples   int64
	FileBytes uint64
}

func (self *Store) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	if err := self.db.QueryRowContext(ctx, countSessionsSQL).Scan(&s.Sessions); err != nil {
		return s, errors.Annotate(err, "record count sessions")
	}
	if err := self.db.QueryRowContext(ctx, countSamplesSQL).Scan(&s.Samples); err != nil {
		return s, errors.Annotate(err, "record count samples")
	}
	if fi, err := os.Stat(self.path); err == nil {
		s.FileBytes = uint64(fi.Size())
	}
	return s, nil
}

func (self *Store) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	err := helpers.FoldErrors([]error{self.insert.Close(), self.db.Close()})
	return errors.Annotate(err, "record close")
}
