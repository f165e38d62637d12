// Command libtalon builds the Talon engine as a C shared library:
//
//	go build -buildmode=c-shared -o libtalon.so ./cmd/libtalon
//
// Handles are opaque non-zero integers. Every export returns a status code
// (0 ok, negative per error kind). Buffers written to out parameters belong
// to the caller until released with talon_free_string or talon_free_bytes.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"github.com/roach88/talon/internal/boundary"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/response"
)

var lib = boundary.New()

func status(kind ir.ErrorKind) C.int { return C.int(response.KindStatus(kind)) }

func goBytes(p *C.uint8_t, n C.size_t) ([]byte, error) {
	return boundary.CopyBytes(unsafe.Pointer(p), uint64(n))
}

func goFloats(p *C.float, n C.size_t) ([]float32, error) {
	return boundary.CopyFloats(unsafe.Pointer(p), uint64(n))
}

func errStatus(err error) C.int { return C.int(response.Status(err)) }

func goString(p *C.char) string {
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

// putString hands s to the caller as a NUL-terminated C string.
func putString(out **C.char, s []byte) {
	if out == nil {
		return
	}
	p := C.CString(string(s))
	lib.Buffers().Track(uintptr(unsafe.Pointer(p)), len(s))
	*out = p
}

// putBytes hands b to the caller. An empty b still yields a non-null buffer.
func putBytes(out **C.uint8_t, outLen *C.size_t, b []byte) {
	if out == nil {
		return
	}
	size := len(b)
	if size == 0 {
		size = 1
	}
	p := C.malloc(C.size_t(size))
	if len(b) > 0 {
		C.memcpy(p, unsafe.Pointer(&b[0]), C.size_t(len(b)))
	}
	lib.Buffers().Track(uintptr(p), len(b))
	*out = (*C.uint8_t)(p)
	if outLen != nil {
		*outLen = C.size_t(len(b))
	}
}

func clearBytes(out **C.uint8_t, outLen *C.size_t) {
	if out != nil {
		*out = nil
	}
	if outLen != nil {
		*outLen = 0
	}
}

//export talon_open
func talon_open(path *C.char) C.uint64_t {
	h, _ := lib.Open(goString(path))
	return C.uint64_t(h)
}

//export talon_open_status
func talon_open_status(path *C.char, handle *C.uint64_t) C.int {
	if path == nil {
		return status(ir.KindPathInvalid)
	}
	h, code := lib.Open(C.GoString(path))
	if handle != nil {
		*handle = C.uint64_t(h)
	}
	return C.int(code)
}

//export talon_close
func talon_close(handle C.uint64_t) C.int {
	return C.int(lib.Close(uint64(handle)))
}

//export talon_run_sql
func talon_run_sql(handle C.uint64_t, sql *C.char, outJSON **C.char) C.int {
	out, code := lib.RunSQL(uint64(handle), goString(sql))
	putString(outJSON, out)
	return C.int(code)
}

//export talon_execute
func talon_execute(handle C.uint64_t, cmdJSON *C.char, outJSON **C.char) C.int {
	var raw []byte
	if cmdJSON != nil {
		var err error
		if raw, err = goBytes((*C.uint8_t)(unsafe.Pointer(cmdJSON)), C.strlen(cmdJSON)); err != nil {
			putString(outJSON, response.Encode(nil, err))
			return errStatus(err)
		}
	}
	out, code := lib.Execute(uint64(handle), raw)
	putString(outJSON, out)
	return C.int(code)
}

//export talon_persist
func talon_persist(handle C.uint64_t) C.int {
	return C.int(lib.Persist(uint64(handle)))
}

//export talon_stats
func talon_stats(handle C.uint64_t, outJSON **C.char) C.int {
	out, code := lib.Stats(uint64(handle))
	putString(outJSON, out)
	return C.int(code)
}

//export talon_health
func talon_health(handle C.uint64_t, outJSON **C.char) C.int {
	out, code := lib.Health(uint64(handle))
	putString(outJSON, out)
	return C.int(code)
}

//export talon_kv_set
func talon_kv_set(handle C.uint64_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t, ttl C.int64_t) C.int {
	k, err := goBytes(key, keyLen)
	if err != nil {
		return errStatus(err)
	}
	v, err := goBytes(value, valueLen)
	if err != nil {
		return errStatus(err)
	}
	return C.int(lib.KVSet(uint64(handle), k, v, int64(ttl)))
}

//export talon_kv_get
func talon_kv_get(handle C.uint64_t, key *C.uint8_t, keyLen C.size_t, outValue **C.uint8_t, outLen *C.size_t) C.int {
	clearBytes(outValue, outLen)
	k, err := goBytes(key, keyLen)
	if err != nil {
		return errStatus(err)
	}
	v, found, code := lib.KVGet(uint64(handle), k)
	if code == response.StatusOK && found {
		putBytes(outValue, outLen, v)
	}
	return C.int(code)
}

//export talon_kv_del
func talon_kv_del(handle C.uint64_t, key *C.uint8_t, keyLen C.size_t) C.int {
	k, err := goBytes(key, keyLen)
	if err != nil {
		return errStatus(err)
	}
	return C.int(lib.KVDel(uint64(handle), k))
}

//export talon_kv_incrby
func talon_kv_incrby(handle C.uint64_t, key *C.uint8_t, keyLen C.size_t, delta C.int64_t, outValue *C.int64_t) C.int {
	k, err := goBytes(key, keyLen)
	if err != nil {
		return errStatus(err)
	}
	v, code := lib.KVIncrBy(uint64(handle), k, int64(delta))
	if code == response.StatusOK && outValue != nil {
		*outValue = C.int64_t(v)
	}
	return C.int(code)
}

//export talon_kv_setnx
func talon_kv_setnx(handle C.uint64_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t, ttl C.int64_t, wasSet *C.int) C.int {
	if wasSet != nil {
		*wasSet = 0
	}
	k, err := goBytes(key, keyLen)
	if err != nil {
		return errStatus(err)
	}
	v, err := goBytes(value, valueLen)
	if err != nil {
		return errStatus(err)
	}
	set, code := lib.KVSetNX(uint64(handle), k, v, int64(ttl))
	if wasSet != nil && set {
		*wasSet = 1
	}
	return C.int(code)
}

//export talon_vector_insert
func talon_vector_insert(handle C.uint64_t, collection *C.char, id C.uint64_t, data *C.float, dim C.size_t) C.int {
	vec, err := goFloats(data, dim)
	if err != nil {
		return errStatus(err)
	}
	return C.int(lib.VectorInsert(uint64(handle), goString(collection), uint64(id), vec))
}

//export talon_vector_search
func talon_vector_search(handle C.uint64_t, collection *C.char, data *C.float, dim C.size_t, k C.size_t, metric *C.char, outJSON **C.char) C.int {
	vec, err := goFloats(data, dim)
	if err != nil {
		putString(outJSON, response.Encode(nil, err))
		return errStatus(err)
	}
	out, code := lib.VectorSearch(uint64(handle), goString(collection), vec, uint64(k), goString(metric))
	putString(outJSON, out)
	return C.int(code)
}

//export talon_vector_search_bin
func talon_vector_search_bin(handle C.uint64_t, collection *C.char, data *C.float, dim C.size_t, k C.size_t, metric *C.char, outData **C.uint8_t, outLen *C.size_t) C.int {
	clearBytes(outData, outLen)
	vec, err := goFloats(data, dim)
	if err != nil {
		return errStatus(err)
	}
	out, code := lib.VectorSearchBin(uint64(handle), goString(collection), vec, uint64(k), goString(metric))
	if code == response.StatusOK {
		putBytes(outData, outLen, out)
	}
	return C.int(code)
}

//export talon_run_sql_bin
func talon_run_sql_bin(handle C.uint64_t, sql *C.char, outData **C.uint8_t, outLen *C.size_t) C.int {
	clearBytes(outData, outLen)
	out, code := lib.RunSQLBin(uint64(handle), goString(sql))
	if code == response.StatusOK {
		putBytes(outData, outLen, out)
	}
	return C.int(code)
}

//export talon_run_sql_param_bin
func talon_run_sql_param_bin(handle C.uint64_t, sql *C.char, params *C.uint8_t, paramsLen C.size_t, outData **C.uint8_t, outLen *C.size_t) C.int {
	clearBytes(outData, outLen)
	raw, err := goBytes(params, paramsLen)
	if err != nil {
		return errStatus(err)
	}
	out, code := lib.RunSQLParamBin(uint64(handle), goString(sql), raw)
	if code == response.StatusOK {
		putBytes(outData, outLen, out)
	}
	return C.int(code)
}

//export talon_free_string
func talon_free_string(ptr *C.char) C.int {
	if ptr == nil {
		return C.int(response.StatusOK)
	}
	if _, ok := lib.Buffers().Release(uintptr(unsafe.Pointer(ptr))); !ok {
		return status(ir.KindInvalidHandle)
	}
	C.free(unsafe.Pointer(ptr))
	return C.int(response.StatusOK)
}

//export talon_free_bytes
func talon_free_bytes(ptr *C.uint8_t, n C.size_t) C.int {
	if ptr == nil {
		return C.int(response.StatusOK)
	}
	if uint64(n) > boundary.MaxCopyLen {
		return status(ir.KindValidationError)
	}
	found, sized := lib.Buffers().ReleaseSized(uintptr(unsafe.Pointer(ptr)), int(n))
	if !found {
		return status(ir.KindInvalidHandle)
	}
	if !sized {
		return status(ir.KindValidationError)
	}
	C.free(unsafe.Pointer(ptr))
	return C.int(response.StatusOK)
}

func main() {}
