package market

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestStoreInsertAndQuery(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	bars := []Bar{
		{Date: mustDate(t, "2024-01-03"), Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1000},
		{Date: mustDate(t, "2024-01-01"), Open: 9, High: 10, Low: 8.8, Close: 9.8, Volume: 900},
		{Date: mustDate(t, "2024-01-02"), Open: 9.8, High: 10.2, Low: 9.6, Close: 10, Volume: 950},
	}
	n, err := store.InsertBars(ctx, "aapl", bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.GetBars(ctx, "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-01-01", got[0].DateKey())
	assert.Equal(t, "2024-01-03", got[2].DateKey())

	// 同日重复写入覆盖旧值
	_, err = store.InsertBars(ctx, "AAPL", []Bar{
		{Date: mustDate(t, "2024-01-02"), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
	})
	require.NoError(t, err)
	got, err = store.GetBars(ctx, "AAPL", mustDate(t, "2024-01-02"), mustDate(t, "2024-01-02"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.5, got[0].Close, 1e-9)

	close, err := store.LatestClose(ctx, "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 10.5, close, 1e-9)

	m, err := store.Manifest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", m.MinDate)
	assert.Equal(t, "2024-01-03", m.MaxDate)
	assert.EqualValues(t, 3, m.Rows)
}

func TestStoreCloseAtOrAfterSkipsGaps(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertBars(ctx, "MSFT", []Bar{
		{Date: mustDate(t, "2024-01-05"), Open: 1, High: 1, Low: 1, Close: 100, Volume: 1},
		{Date: mustDate(t, "2024-01-08"), Open: 1, High: 1, Low: 1, Close: 105, Volume: 1},
	})
	require.NoError(t, err)

	// 1月6日是缺口，应落到下一根日线
	close, d, err := store.CloseAtOrAfter(ctx, "MSFT", mustDate(t, "2024-01-06"))
	require.NoError(t, err)
	assert.InDelta(t, 105, close, 1e-9)
	assert.Equal(t, "2024-01-08", d.UTC().Format(DateLayout))

	_, _, err = store.CloseAtOrAfter(ctx, "MSFT", mustDate(t, "2024-02-01"))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestStoreNoData(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetBars(context.Background(), "NOPE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoData)
	_, err = store.LatestClose(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReadBarsCSVLayouts(t *testing.T) {
	withTicker := strings.Join([]string{
		"ticker,date,open,high,low,close,volume",
		"AAPL,2024-01-02,9.8,10.2,9.6,10.0,950",
		"AAPL,2024-01-01,9.0,10.0,8.8,9.8,900",
	}, "\n")
	bars, err := ReadBarsCSV(strings.NewReader(withTicker), "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-01", bars[0].DateKey())

	noVolume := strings.Join([]string{
		"2024-01-01,9.0,10.0,8.8,9.8",
		"bad-line,x,y",
		"2024-01-02,9.8,10.2,9.6,10.0",
	}, "\n")
	bars, err = ReadBarsCSV(strings.NewReader(noVolume), "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, float64(defaultVolume), bars[0].Volume, 1e-9)
}

func TestSortBarsDedupeKeepsLater(t *testing.T) {
	d := mustDate(t, "2024-01-01")
	bars := SortBars([]Bar{
		{Date: d, Close: 1},
		{Date: d, Close: 2},
	})
	require.Len(t, bars, 1)
	assert.InDelta(t, 2, bars[0].Close, 1e-9)
}
