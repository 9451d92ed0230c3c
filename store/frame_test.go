package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func TestFrameAppend(t *testing.T) {
	f := NewFrame("open", "close")

	require.NoError(t, f.Append(day(1), 1.0, 2.0))
	require.NoError(t, f.Append(day(2), 3.0, 4.0))
	assert.Equal(t, 2, f.Len())

	err := f.Append(day(3), 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 values")
}

func TestFrameLastDate(t *testing.T) {
	f := NewFrame("v")
	_, ok := f.LastDate()
	assert.False(t, ok)

	require.NoError(t, f.Append(day(1), 1.0))
	require.NoError(t, f.Append(day(5), 2.0))

	last, ok := f.LastDate()
	require.True(t, ok)
	assert.Equal(t, day(5), last)
}

func TestFrameAfter(t *testing.T) {
	f := NewFrame("v")
	for d := 1; d <= 5; d++ {
		require.NoError(t, f.Append(day(d), float64(d)))
	}

	newer := f.After(day(3))
	assert.Equal(t, 2, newer.Len(), "strictly newer rows only")
	assert.Equal(t, day(4), newer.Dates[0])
	assert.Equal(t, day(5), newer.Dates[1])

	none := f.After(day(9))
	assert.Zero(t, none.Len())
}

func TestFrameSort(t *testing.T) {
	f := NewFrame("v")
	require.NoError(t, f.Append(day(3), 3.0))
	require.NoError(t, f.Append(day(1), 1.0))
	require.NoError(t, f.Append(day(2), 2.0))

	f.Sort()

	assert.Equal(t, []time.Time{day(1), day(2), day(3)}, f.Dates)
	assert.Equal(t, [][]float64{{1.0}, {2.0}, {3.0}}, f.Rows)
}
