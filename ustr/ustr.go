// Package ustr provides an immutable byte-string type for on-disk EFS
// file names; no other package in this repository imports it (fs keeps
// names as Go strings). Adapted from biscuit's path type: the path-join helpers
// (Extend/ExtendStr/DotDot) are dropped because the file system this
// kernel implements has a single flat root directory with no nested
// components (spec.md §1 Non-goals), so there is never a path to join.
package ustr

// Ustr is an immutable name, at most 28 bytes once stored on disk.
type Ustr []uint8

// MaxNameLen is the width of a DirEntry's name field.
const MaxNameLen = 28

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr, the layout
// a DirEntry's 28-byte name field uses on disk.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}

// Bare strips a single leading '/', since the flat root has no further
// path components to resolve.
func (us Ustr) Bare() Ustr {
	if us.IsAbsolute() {
		return us[1:]
	}
	return us
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}
