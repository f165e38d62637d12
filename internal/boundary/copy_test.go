package boundary

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/talon/internal/ir"
)

func TestCopyBytes(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	got, err := CopyBytes(unsafe.Pointer(&src[0]), uint64(len(src)))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	src[0] = 9
	assert.Equal(t, byte(1), got[0])

	got, err = CopyBytes(nil, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = CopyBytes(unsafe.Pointer(&src[0]), 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCopyBytesRejectsOversizedLengths(t *testing.T) {
	src := []byte{1}
	// Lengths past 2^31 must not wrap into a small or negative copy.
	assert.Greater(t, uint64(MaxCopyLen), uint64(math.MaxUint32))

	for _, n := range []uint64{MaxCopyLen + 1, math.MaxUint64} {
		_, err := CopyBytes(unsafe.Pointer(&src[0]), n)
		require.Error(t, err)
		assert.True(t, ir.IsKind(err, ir.KindValidationError))
	}
}

func TestCopyFloats(t *testing.T) {
	src := []float32{0.5, -1}
	got, err := CopyFloats(unsafe.Pointer(&src[0]), uint64(len(src)))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, got)

	_, err = CopyFloats(unsafe.Pointer(&src[0]), math.MaxUint64/2)
	assert.True(t, ir.IsKind(err, ir.KindValidationError))
}
