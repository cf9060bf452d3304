// Package records keeps a local audit trail of completed scans. The
// object-store tags remain the authoritative disposition; this store
// exists so operators can reconstruct what the worker did without
// listing buckets.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const scansNamespace = "scans"

type Outcome string

const (
	OutcomeClean    Outcome = "clean"
	OutcomeInfected Outcome = "infected"
	// OutcomeSkippedMissing marks an object that vanished between the
	// notification and the fetch.
	OutcomeSkippedMissing Outcome = "skipped_missing"
)

type ScanRecord struct {
	ID                 string    `json:"id"`
	Bucket             string    `json:"bucket"`
	Key                string    `json:"key"`
	SizeBytes          int64     `json:"size_bytes"`
	Digest             string    `json:"digest,omitempty"`
	Outcome            Outcome   `json:"outcome"`
	VirusName          string    `json:"virus_name,omitempty"`
	QuarantineLocation string    `json:"quarantine_location,omitempty"`
	ScanOutput         string    `json:"scan_output,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

type Stats struct {
	Total    int       `json:"total"`
	Clean    int       `json:"clean"`
	Infected int       `json:"infected"`
	Skipped  int       `json:"skipped"`
	LastScan time.Time `json:"last_scan"`
}

type RecordStore struct {
	store Store
}

func NewRecordStore(store Store) *RecordStore {
	return &RecordStore{store: store}
}

func (r *RecordStore) Save(rec ScanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode scan record")
	}
	// Nanosecond prefix keeps iteration in insertion order.
	key := fmt.Sprintf("%020d-%s", rec.FinishedAt.UnixNano(), rec.ID)
	return r.store.Put(scansNamespace, key, raw)
}

func (r *RecordStore) List() ([]ScanRecord, error) {
	out := []ScanRecord{}
	err := r.store.ForEach(scansNamespace, func(_, value []byte) error {
		var rec ScanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return errors.Wrap(err, "decode scan record")
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []ScanRecord{}, nil
		}
		return nil, err
	}
	return out, nil
}

func (r *RecordStore) Stats() (Stats, error) {
	var stats Stats
	err := r.store.ForEach(scansNamespace, func(_, value []byte) error {
		var rec ScanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		stats.Total++
		switch rec.Outcome {
		case OutcomeClean:
			stats.Clean++
		case OutcomeInfected:
			stats.Infected++
		case OutcomeSkippedMissing:
			stats.Skipped++
		}
		if rec.FinishedAt.After(stats.LastScan) {
			stats.LastScan = rec.FinishedAt
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Stats{}, err
	}
	return stats, nil
}

func (r *RecordStore) PruneOlderThan(cutoff time.Time) error {
	return r.store.ForEach(scansNamespace, func(key, value []byte) error {
		var rec ScanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		if !rec.FinishedAt.IsZero() && rec.FinishedAt.Before(cutoff) {
			return r.store.Delete(scansNamespace, string(key))
		}
		return nil
	})
}
