// Package journal keeps a bounded history of pipeline runs in a bbolt file.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
)

var runsBucket = []byte("RUNS")

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// DefaultMaxEntries is the history kept when none is configured.
const DefaultMaxEntries = 500

// Journal stores run reports keyed by their ULID, so keys sort by start
// time. It implements pipeline.Reporter.
type Journal struct {
	db         *bbolt.DB
	maxEntries int
}

// Open opens or creates the journal at path.
func Open(path string, maxEntries int) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal %s: %w", path, err)
	}
	return &Journal{db: db, maxEntries: maxEntries}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Report stores r and trims the oldest entries past the limit.
// Errors are logged; a journal failure never fails a run. Skipped
// triggers are not stored: they arrive on the trigger goroutine.
func (j *Journal) Report(r pipeline.Report) {
	if r.Outcome == pipeline.OutcomeSkipped {
		return
	}
	if err := j.Put(r); err != nil {
		debug.Error(fmt.Errorf("journal: %w", err))
	}
}

// Put stores r.
func (j *Journal) Put(r pipeline.Report) error {
	key, err := runKey(r.ID)
	if err != nil {
		return err
	}
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", r.ID, err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if err := b.Put(key, val); err != nil {
			return err
		}
		c := b.Cursor()
		n := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		for ; n > j.maxEntries; n-- {
			if k, _ := c.First(); k == nil {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the run with the given ID.
func (j *Journal) Get(id string) (pipeline.Report, error) {
	key, err := runKey(id)
	if err != nil {
		return pipeline.Report{}, err
	}
	var r pipeline.Report
	err = j.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(runsBucket).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &r)
	})
	return r, err
}

// Recent returns up to n runs, newest first.
func (j *Journal) Recent(n int) ([]pipeline.Report, error) {
	out := []pipeline.Report{}
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var r pipeline.Report
			if err := json.Unmarshal(v, &r); err != nil {
				debug.Verbose("Journal: skipping corrupt entry %x: %v", k, err)
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func runKey(id string) ([]byte, error) {
	u, err := ulid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad run id %q: %w", id, err)
	}
	return u.Bytes(), nil
}
