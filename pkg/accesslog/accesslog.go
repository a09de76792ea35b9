// Package accesslog persists one record per answered request into a
// pebble store. Records are written by a background goroutine fed from
// a bounded channel; when the channel is full records are dropped
// rather than stalling the serving path.
package accesslog

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/NiceMatters/lwan/pkg/logger"
)

// Entry is one access log record.
type Entry struct {
	Time   time.Time `json:"time"`
	Remote string    `json:"remote"`
	Method string    `json:"method"`
	Path   string    `json:"path"`
	Status int       `json:"status"`
	Bytes  int       `json:"bytes"`
}

var (
	mu  sync.Mutex
	db  *pebble.DB
	ch  chan Entry
	wg  sync.WaitGroup
	seq uint64
)

const keyPrefix = "log:"

// Open opens (or creates) the access log store at path and starts the
// background writer.
func Open(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if db != nil {
		return fmt.Errorf("access log already open")
	}
	d, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return err
	}
	db = d
	ch = make(chan Entry, 1024)
	wg.Add(1)
	go writer(d, ch)
	return nil
}

// Close drains pending records and closes the store.
func Close() error {
	mu.Lock()
	d, c := db, ch
	db, ch = nil, nil
	mu.Unlock()
	if d == nil {
		return nil
	}
	close(c)
	wg.Wait()
	return d.Close()
}

// Enabled reports whether the access log store is open.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return db != nil
}

// Record enqueues one access record. It never blocks; records are
// dropped when the store is closed or the writer is behind.
func Record(remote, method, path string, status, bytes int) {
	// Holding mu across the non-blocking send keeps Close from closing
	// the channel underneath it.
	mu.Lock()
	defer mu.Unlock()
	if ch == nil {
		return
	}
	e := Entry{
		Time:   time.Now(),
		Remote: remote,
		Method: method,
		Path:   path,
		Status: status,
		Bytes:  bytes,
	}
	select {
	case ch <- e:
	default:
		// drop if channel full to avoid blocking
	}
}

func writer(d *pebble.DB, c <-chan Entry) {
	defer wg.Done()
	for e := range c {
		key := entryKey(e.Time)
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := d.Set([]byte(key), data, pebble.NoSync); err != nil {
			logger.Warn("access log write failed", "err", err)
		}
	}
}

// entryKey orders records by time; the sequence suffix keeps same-nano
// records distinct.
func entryKey(t time.Time) string {
	s := atomic.AddUint64(&seq, 1) % 1000000
	return fmt.Sprintf("%s%020d-%06d", keyPrefix, t.UnixNano(), s)
}

// Recent returns up to limit most recent entries, newest first.
func Recent(limit int) ([]Entry, error) {
	mu.Lock()
	d := db
	mu.Unlock()
	if d == nil {
		return nil, fmt.Errorf("access log not open")
	}
	if limit <= 0 {
		limit = 100
	}
	iter, err := d.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteOlderThan removes all entries recorded before cutoff and
// returns how many were deleted.
func DeleteOlderThan(cutoff time.Time) (int, error) {
	mu.Lock()
	d := db
	mu.Unlock()
	if d == nil {
		return 0, fmt.Errorf("access log not open")
	}
	upper := fmt.Sprintf("%s%020d-%06d", keyPrefix, cutoff.UnixNano(), 0)
	iter, err := d.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	batch := d.NewBatch()
	for ok := iter.First(); ok; ok = iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		if err := batch.Delete(key, nil); err != nil {
			iter.Close()
			batch.Close()
			return deleted, err
		}
		deleted++
	}
	if err := iter.Close(); err != nil {
		batch.Close()
		return deleted, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Flush blocks until the writer has taken every queued record off the
// channel; the last record taken may still be on its way into the
// store when Flush returns. Only tests need this.
func Flush() {
	mu.Lock()
	c := ch
	mu.Unlock()
	if c == nil {
		return
	}
	for len(c) > 0 {
		time.Sleep(time.Millisecond)
	}
}
