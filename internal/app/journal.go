// Package app composes the broker: configuration, registry, command router,
// orchestrators, operator channel, HTTP API and the on-disk journal.
package app

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"agrolink/internal/model"
)

var (
	bucketDetections = []byte("detections")
	bucketTelemetry  = []byte("telemetry")
)

// Journal persists detections and last-known telemetry so the HTTP API can
// answer about vehicles that are currently offline.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (creating if needed) the bolt file and its buckets.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDetections, bucketTelemetry} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SaveDetection appends one detection keyed by a monotonic sequence so the
// journal preserves arrival order even when ids repeat across restarts.
func (j *Journal) SaveDetection(ev model.DetectionEvent) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDetections)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		buf, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(key[:], buf)
	})
}

// Detections returns up to limit most recent detections, newest first.
func (j *Journal) Detections(limit int) ([]model.DetectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]model.DetectionEvent, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDetections).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var ev model.DetectionEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// SaveSnapshot records the last-known telemetry for one vehicle.
func (j *Journal) SaveSnapshot(vehicleID int, snap model.Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTelemetry).Put([]byte(strconv.Itoa(vehicleID)), buf)
	})
}

// LastSnapshot returns the journaled telemetry for a vehicle, ok=false when
// none was ever recorded.
func (j *Journal) LastSnapshot(vehicleID int) (model.Snapshot, bool) {
	var snap model.Snapshot
	found := false
	_ = j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTelemetry).Get([]byte(strconv.Itoa(vehicleID)))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &snap); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return snap, found
}
