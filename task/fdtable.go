package task

import (
	"rvkernel/defs"
	"rvkernel/fs"
)

// File descriptor permission bits, the same FD_READ/FD_WRITE split
// biscuit's fd.Fd_t carries (biscuit/src/fd/fd.go), trimmed of
// FD_CLOEXEC since this kernel has no exec-across-fork-without-exec
// distinction to preserve it for.
const (
	FdRead  = 0x1
	FdWrite = 0x2
)

// FileHandle is one open file descriptor: an Inode, a permission mask,
// and the byte offset the next read/write continues from. There is no
// Cwd_t/path-canonicalisation layer (biscuit/src/fd/fd.go's Cwd_t)
// because EFS is a flat root directory (spec.md §1 Non-goals: nested
// directories).
type FileHandle struct {
	Inode  *fs.Inode
	Perms  int
	Offset uint32

	// Virtual holds the read-only snapshot backing /dev/stat and
	// /dev/prof (SPEC_FULL.md §4.9): these never touch EFS, so a handle
	// serving one has Inode nil and its bytes fixed at open time.
	Virtual []byte
}

// reserved fd slots for the three always-open streams every process
// starts with, matching spec.md §6's implicit stdio convention.
const (
	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2
)

// allocFd returns the lowest free descriptor above the stdio slots
// (FdStdin..FdStderr), growing the table if every slot is in use.
func allocFd(in *Inner) int {
	for len(in.Fdtable) <= FdStderr {
		in.Fdtable = append(in.Fdtable, nil)
	}
	for i := FdStderr + 1; i < len(in.Fdtable); i++ {
		if in.Fdtable[i] == nil {
			return i
		}
	}
	in.Fdtable = append(in.Fdtable, nil)
	return len(in.Fdtable) - 1
}

// OpenFile installs a freshly opened inode into t's descriptor table and
// returns the new fd.
func OpenFile(t *TaskControlBlock, ino *fs.Inode, perms int) int {
	var fd int
	t.WithInner(func(in *Inner) {
		fd = allocFd(in)
		in.Fdtable[fd] = &FileHandle{Inode: ino, Perms: perms}
	})
	return fd
}

// OpenVirtual installs a fixed byte snapshot (a /dev/stat or /dev/prof
// dump) as a new read-only descriptor.
func OpenVirtual(t *TaskControlBlock, data []byte) int {
	var fd int
	t.WithInner(func(in *Inner) {
		fd = allocFd(in)
		in.Fdtable[fd] = &FileHandle{Perms: FdRead, Virtual: data}
	})
	return fd
}

// Handle returns t's open file at fd, or nil if fd is closed/out of
// range.
func Handle(t *TaskControlBlock, fd int) *FileHandle {
	var h *FileHandle
	t.WithInner(func(in *Inner) {
		if fd < 0 || fd >= len(in.Fdtable) {
			return
		}
		h = in.Fdtable[fd]
	})
	return h
}

// CloseFile clears fd's slot. Returns EINVAL if fd was already closed or
// never valid.
func CloseFile(t *TaskControlBlock, fd int) defs.Err_t {
	var errv defs.Err_t
	t.WithInner(func(in *Inner) {
		if fd < 0 || fd >= len(in.Fdtable) || in.Fdtable[fd] == nil {
			errv = defs.EINVAL
			return
		}
		in.Fdtable[fd] = nil
	})
	return errv
}
