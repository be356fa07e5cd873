package vm

import (
	"unsafe"

	"rvkernel/mem"
)

// framePage returns the hosted backing store for ppn, the page-table
// package's only point of contact with mem's frame simulation.
func framePage(ppn PhysPageNum) *mem.Bytepg_t {
	return mem.FramePage(ppn)
}

// asPteArray reinterprets a raw page as an array of page-table entries,
// the Go-unsafe analogue of biscuit's mem.pg2pmap.
func asPteArray(pg *mem.Bytepg_t) *pageTablePage {
	return (*pageTablePage)(unsafe.Pointer(pg))
}
