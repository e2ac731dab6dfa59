// Package decisions keeps an append-only audit journal of every model
// decision and what the risk and approval layers did with it.
package decisions

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/corvusbit/ember/internal/domain"
)

const (
	DefaultDir   = "./wal/decisions"
	segmentLimit = 1000
	maxSegments  = 20

	keyPrefix = "decision_"
)

// Record is one fully resolved decision cycle.
type Record struct {
	Time             time.Time       `json:"time"`
	Decision         domain.Decision `json:"decision"`
	RiskApproved     bool            `json:"risk_approved"`
	RiskReason       string          `json:"risk_reason,omitempty"`
	OperatorApproved bool            `json:"operator_approved"`
	OperatorReason   string          `json:"operator_reason,omitempty"`
	Executed         bool            `json:"executed"`
	OrderID          string          `json:"order_id,omitempty"`
}

// WALStore persists decision records in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed decision journal.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "decision_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init decision WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends one record.
func (s *WALStore) Save(rec Record) error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}
	if rec.Decision.Pair.Base == "" {
		return errors.New("decision record pair is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal decision record")
	}

	key := fmt.Sprintf("%s%s", keyPrefix, rec.Decision.Pair)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns all records written after the provided WAL index.
func (s *WALStore) RecordsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("decision store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrap(err, "decode decision record")
		}
		records = append(records, rec)
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Shutdown closes the underlying WAL.
func (s *WALStore) Shutdown() error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
