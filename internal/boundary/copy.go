package boundary

import (
	"bytes"
	"unsafe"

	"github.com/roach88/talon/internal/ir"
)

// MaxCopyLen bounds the byte length of a foreign buffer copied into Go
// memory. It is well below the address space unsafe.Slice accepts.
const MaxCopyLen = 1 << 40

func tooLong(n, limit uint64, unit string) error {
	return ir.Errorf(ir.KindValidationError, "buffer of %d %s exceeds the %d limit", n, unit, limit)
}

// CopyBytes copies n bytes starting at p into Go memory. A nil p or zero n
// yields nil. Lengths are taken as given, never truncated.
func CopyBytes(p unsafe.Pointer, n uint64) ([]byte, error) {
	if p == nil || n == 0 {
		return nil, nil
	}
	if n > MaxCopyLen {
		return nil, tooLong(n, MaxCopyLen, "bytes")
	}
	return bytes.Clone(unsafe.Slice((*byte)(p), int(n))), nil
}

// CopyFloats copies n float32 values starting at p into Go memory.
func CopyFloats(p unsafe.Pointer, n uint64) ([]float32, error) {
	if p == nil || n == 0 {
		return nil, nil
	}
	if n > MaxCopyLen/4 {
		return nil, tooLong(n, MaxCopyLen/4, "floats")
	}
	return append([]float32(nil), unsafe.Slice((*float32)(p), int(n))...), nil
}
