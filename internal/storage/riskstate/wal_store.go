// Package riskstate persists risk counters in a WAL. Every mutation is
// a full snapshot; loading replays to the newest one.
package riskstate

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/corvusbit/ember/internal/domain"
)

const (
	DefaultDir   = "./wal/riskstate"
	segmentLimit = 1000
	maxSegments  = 5

	snapshotKey = "risk_state"
)

// WALStore persists RiskState snapshots in a WAL. It satisfies the risk
// manager's StateStore.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed risk state store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "risk_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init risk state WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends a snapshot of the risk state.
func (s *WALStore) Save(state domain.RiskState) error {
	if s == nil || s.wal == nil {
		return errors.New("risk state store is not initialized")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal risk state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, snapshotKey, payload)
}

// Load returns the newest persisted snapshot, or a zero state for an
// empty WAL.
func (s *WALStore) Load() (domain.RiskState, error) {
	if s == nil || s.wal == nil {
		return domain.RiskState{}, errors.New("risk state store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	for idx := current; idx >= 1; idx-- {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		var state domain.RiskState
		if err := json.Unmarshal(payload, &state); err != nil {
			return domain.RiskState{}, errors.Wrap(err, "decode risk state")
		}
		return state, nil
	}

	return domain.RiskState{}, nil
}

// Shutdown closes the underlying WAL.
func (s *WALStore) Shutdown() error {
	if s == nil || s.wal == nil {
		return errors.New("risk state store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
