package syscall

import (
	"unsafe"

	"rvkernel/defs"
)

// timeValBytes, int32Bytes and taskInfoBytes expose Go struct/scalar
// values as their raw little-endian byte representation, the layout
// get_time/waitpid/task_info copy into user memory. Grounded on
// util.Readn/Writen's unsafe.Pointer cast idiom (util/util.go), already
// used throughout this kernel for wire-format structs.
func timeValBytes(tv defs.TimeVal) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&tv)), int(unsafe.Sizeof(tv)))
}

func int32Bytes(v int32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(unsafe.Sizeof(v)))
}

func taskInfoBytes(info *defs.TaskInfo) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(info)), int(unsafe.Sizeof(*info)))
}
