package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRing_NewIsEmpty(t *testing.T) {
	r := NewSampleRing(6, 6)

	assert.Equal(t, 0, r.Populated())
	assert.Equal(t, 6, r.Capacity())
	assert.Equal(t, 6, r.Channels())

	snap, err := r.Snapshot(0)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSampleRing_WriteWithoutAdvanceOverwrites(t *testing.T) {
	r := NewSampleRing(1, 6)
	require.NoError(t, r.Write(0, Valid(1)))
	require.NoError(t, r.Write(0, Valid(2)))
	r.Advance()

	snap, err := r.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, []Reading{Valid(2)}, snap)
}

func TestSampleRing_AdvanceClampsPopulated(t *testing.T) {
	r := NewSampleRing(1, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Write(0, Valid(float64(i))))
		r.Advance()
	}

	assert.Equal(t, 3, r.Populated())
	// Index wrapped twice past the start: 5 mod 3
	assert.Equal(t, 2, r.Index())

	snap, err := r.Snapshot(0)
	require.NoError(t, err)
	// Slots hold the newest three values in slot order
	assert.Equal(t, []Reading{Valid(3), Valid(4), Valid(2)}, snap)
}

func TestSampleRing_SnapshotIsACopy(t *testing.T) {
	r := NewSampleRing(1, 2)
	require.NoError(t, r.Write(0, Valid(10)))
	r.Advance()

	snap, err := r.Snapshot(0)
	require.NoError(t, err)
	snap[0] = Valid(99)

	again, err := r.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, Valid(10), again[0])
}

func TestSampleRing_ResetClearsEverything(t *testing.T) {
	r := NewSampleRing(2, 3)
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Write(0, Valid(1)))
		require.NoError(t, r.Write(1, Valid(2)))
		r.Advance()
	}

	r.Reset()

	assert.Equal(t, 0, r.Populated())
	assert.Equal(t, 0, r.Index())
	for ch := 0; ch < r.Channels(); ch++ {
		snap, err := r.Snapshot(ch)
		require.NoError(t, err)
		assert.Empty(t, snap)
	}

	// A fresh sample after reset must not resurrect old slots
	r.Advance()
	snap, err := r.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, []Reading{Invalid()}, snap)
}

func TestSampleRing_UnknownChannel(t *testing.T) {
	r := NewSampleRing(2, 3)

	assert.ErrorIs(t, r.Write(2, Valid(1)), ErrUnknownChannel)
	assert.ErrorIs(t, r.Write(-1, Valid(1)), ErrUnknownChannel)

	_, err := r.Snapshot(5)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestSampleRing_MissingWriteStaysInvalid(t *testing.T) {
	r := NewSampleRing(2, 3)
	require.NoError(t, r.Write(0, Valid(5)))
	r.Advance()

	snap, err := r.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, []Reading{Invalid()}, snap)
}
