// Package positions persists the open position book in a WAL so a
// restart resumes with the same holdings, averaged entries and trailing
// stop state.
package positions

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/corvusbit/ember/internal/domain"
)

const (
	DefaultDir   = "./wal/positions"
	segmentLimit = 1000
	maxSegments  = 10

	keyPrefix = "position_"
)

// record is one position lifecycle event. A closed record tombstones
// the symbol; replay keeps only the latest record per symbol.
type record struct {
	Symbol   string           `json:"symbol"`
	Closed   bool             `json:"closed"`
	Position *domain.Position `json:"position,omitempty"`
}

// WALStore persists position events in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed position store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "position_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init position WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save writes the current snapshot of an open position.
func (s *WALStore) Save(pos *domain.Position) error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}
	if pos == nil || pos.Symbol == "" {
		return errors.New("position symbol is required")
	}

	return s.append(record{Symbol: pos.Symbol, Position: pos})
}

// Close tombstones a symbol after its position was fully sold.
func (s *WALStore) Close(symbol string) error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}
	if symbol == "" {
		return errors.New("position symbol is required")
	}

	return s.append(record{Symbol: symbol, Closed: true})
}

func (s *WALStore) append(rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal position record")
	}

	key := fmt.Sprintf("%s%s", keyPrefix, rec.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Load replays the WAL into the current open position book.
func (s *WALStore) Load() (map[string]*domain.Position, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("position store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	book := make(map[string]*domain.Position)
	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		var rec record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrap(err, "decode position record")
		}

		if rec.Closed {
			delete(book, rec.Symbol)
			continue
		}
		if rec.Position != nil {
			book[rec.Symbol] = rec.Position
		}
	}

	return book, nil
}

// Shutdown closes the underlying WAL.
func (s *WALStore) Shutdown() error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
