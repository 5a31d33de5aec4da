// Package storage keeps a small persistent registry of the artifact bundles the
// service has loaded. It uses BoltDB as the underlying storage engine.
//
// A bundle is identified by its manifest version. The registry remembers the
// artifact fingerprints first seen under each version so that a redeploy which
// reuses a version label for different artifacts is caught at startup.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bundlesBucket = "bundles" // Bucket name for bundle records keyed by version
	dbFile        = "diabetes-risk.db"
)

// ErrFingerprintConflict means a version was recorded before with different artifacts.
var ErrFingerprintConflict = errors.New("bundle version already recorded with different artifacts")

// BundleRecord is what the registry knows about one artifact bundle.
type BundleRecord struct {
	Version      string            `json:"version"`
	Encoding     string            `json:"encoding"`
	Fingerprints map[string]string `json:"fingerprints"`
	NumFeatures  int               `json:"num_features"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastLoaded   time.Time         `json:"last_loaded"`
	LoadCount    int               `json:"load_count"`
}

// Store provides persistent storage for bundle records using BoltDB.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) the registry database under dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bundlesBucket)); err != nil {
			return fmt.Errorf("create bundles bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// RecordBundle registers a load of the bundle described by rec. The first load
// of a version stores it; later loads bump LastLoaded and LoadCount. If the
// stored fingerprints differ, the stored record is returned unchanged together
// with ErrFingerprintConflict.
func (s *Store) RecordBundle(rec BundleRecord) (BundleRecord, error) {
	if rec.Version == "" {
		return BundleRecord{}, errors.New("bundle version is required")
	}

	var out BundleRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bundlesBucket))
		key := []byte(rec.Version)
		now := s.now().UTC()

		if data := b.Get(key); data != nil {
			var prev BundleRecord
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("unmarshal bundle %s: %w", rec.Version, err)
			}
			if prev.Encoding != rec.Encoding || !maps.Equal(prev.Fingerprints, rec.Fingerprints) {
				out = prev
				return ErrFingerprintConflict
			}
			prev.LastLoaded = now
			prev.LoadCount++
			out = prev
		} else {
			out = rec
			out.Fingerprints = maps.Clone(rec.Fingerprints)
			out.FirstSeen = now
			out.LastLoaded = now
			out.LoadCount = 1
		}

		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal bundle: %w", err)
		}
		return b.Put(key, data)
	})
	if errors.Is(err, ErrFingerprintConflict) {
		return out, fmt.Errorf("%w: version %s", ErrFingerprintConflict, rec.Version)
	}
	if err != nil {
		return BundleRecord{}, err
	}
	return out, nil
}

// GetBundle returns the record for version, if any.
func (s *Store) GetBundle(version string) (BundleRecord, bool, error) {
	var rec BundleRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bundlesBucket)).Get([]byte(version))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// ListBundles returns every recorded bundle, most recently loaded first.
func (s *Store) ListBundles() ([]BundleRecord, error) {
	var records []BundleRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bundlesBucket)).ForEach(func(k, v []byte) error {
			var rec BundleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip malformed records
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastLoaded.After(records[j].LastLoaded)
	})
	return records, nil
}
