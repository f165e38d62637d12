package response

import "github.com/roach88/talon/internal/ir"

// StatusOK is returned by boundary calls that succeed.
const StatusOK int32 = 0

// Status maps err to a boundary status code: 0 for nil, otherwise the
// negative position of its kind in ir.Kinds (-1 InvalidHandle ... -10
// CorruptState).
func Status(err error) int32 {
	if err == nil {
		return StatusOK
	}
	return KindStatus(ir.KindOf(err))
}

// KindStatus returns the status code for kind.
func KindStatus(kind ir.ErrorKind) int32 {
	for i, k := range ir.Kinds {
		if k == kind {
			return -int32(i + 1)
		}
	}
	return KindStatus(ir.KindExecutionError)
}

// StatusKind is the inverse of KindStatus.
func StatusKind(code int32) (ir.ErrorKind, bool) {
	i := int(-code) - 1
	if code >= 0 || i >= len(ir.Kinds) {
		return "", false
	}
	return ir.Kinds[i], true
}
