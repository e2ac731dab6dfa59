package positions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corvusbit/ember/internal/domain"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Shutdown()

	btc, err := domain.NewPosition("BTC/KRW", decimal.NewFromFloat(0.01), decimal.NewFromInt(100_000_000), time.Now().UTC())
	require.NoError(t, err)
	eth, err := domain.NewPosition("ETH/KRW", decimal.NewFromFloat(0.5), decimal.NewFromInt(5_000_000), time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, store.Save(btc))
	require.NoError(t, store.Save(eth))

	book, err := store.Load()
	require.NoError(t, err)
	require.Len(t, book, 2)
	require.True(t, book["BTC/KRW"].EntryPrice.Equal(btc.EntryPrice))
}

func TestLatestSnapshotWins(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Shutdown()

	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromFloat(0.01), decimal.NewFromInt(100_000_000), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.Save(pos))

	require.NoError(t, pos.AddFill(decimal.NewFromFloat(0.01), decimal.NewFromInt(90_000_000)))
	require.NoError(t, store.Save(pos))

	book, err := store.Load()
	require.NoError(t, err)
	require.Len(t, book, 1)
	require.Equal(t, 1, book["BTC/KRW"].DCACount)
	require.True(t, book["BTC/KRW"].Quantity.Equal(decimal.NewFromFloat(0.02)))
}

func TestCloseTombstones(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Shutdown()

	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromFloat(0.01), decimal.NewFromInt(100_000_000), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.Save(pos))
	require.NoError(t, store.Close("BTC/KRW"))

	book, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, book)
}

func TestSaveRejectsEmptySymbol(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Shutdown()

	require.Error(t, store.Save(&domain.Position{}))
	require.Error(t, store.Close(""))
}
