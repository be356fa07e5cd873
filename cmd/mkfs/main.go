// Command mkfs builds a bootable EFS disk image from a host skeleton
// directory, the same two-step "make blank disk, then copy a directory
// tree into it" shape as biscuit/src/mkfs/mkfs.go's addfiles/copydata,
// adapted from ufs.MkDisk+ustr paths onto this kernel's fs.Create/Inode
// API.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/width"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"rvkernel/blockdev"
	"rvkernel/defs"
	"rvkernel/fs"
)

var (
	image             = kingpin.Flag("image", "Path of the disk image to create.").Required().String()
	skelDir           = kingpin.Flag("skel", "Host directory copied into the image's flat root.").Required().ExistingDir()
	totalBlocks       = kingpin.Flag("total-blocks", "Size of the image, in 512-byte blocks.").Default("40960").Uint32()
	inodeBitmapBlocks = kingpin.Flag("inode-bitmap-blocks", "Blocks reserved for the inode bitmap.").Default("1").Uint32()
	listContents      = kingpin.Flag("ls", "Print the finished image's root directory listing.").Bool()
)

func main() {
	kingpin.Parse()

	disk, err := blockdev.CreateFileDisk(*image, int(*totalBlocks))
	if err != nil {
		kingpin.Fatalf("%v", errors.Wrap(err, "mkfs: creating image"))
	}
	defer disk.Close()

	efs, err := fs.Create(disk, *totalBlocks, *inodeBitmapBlocks)
	if err != nil {
		kingpin.Fatalf("%v", errors.Wrap(err, "mkfs: formatting image"))
	}
	fs.Root = efs

	if err := addfiles(efs.RootInode(), *skelDir); err != nil {
		kingpin.Fatalf("%v", err)
	}

	if err := efs.Cache.SyncAll(); err != nil {
		kingpin.Fatalf("%v", errors.Wrap(err, "mkfs: sync_all"))
	}

	if *listContents {
		lsRoot(efs.RootInode())
	}
}

// addfiles is a flat version of the teacher's recursive WalkDir: EFS has
// no subdirectories (spec.md §1 Non-goals), so any skelDir subtree is
// rejected rather than silently flattened.
func addfiles(root *fs.Inode, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "mkfs: accessing %s", path)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skelDir), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		if d.IsDir() {
			return errors.Errorf("mkfs: %s is a subdirectory, EFS is a flat root", rel)
		}
		ino, errv := root.Create(rel)
		if errv != defs.EOK {
			return errors.Errorf("mkfs: creating %s: err %d", rel, errv)
		}
		return copydata(path, ino)
	})
}

// copydata streams src into ino BSIZE chunks at a time, same shape as
// the teacher's copydata/ufs.Append loop.
func copydata(src string, ino *fs.Inode) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "mkfs: opening %s", src)
	}
	defer f.Close()

	buf := make([]byte, 512)
	var offset uint32
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			ino.WriteAt(offset, buf[:n])
			offset += uint32(n)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errors.Wrapf(readErr, "mkfs: reading %s", src)
		}
	}
}

// lsRoot prints the root directory with entry names padded to a fixed
// display width; width.LookupRune accounts for East-Asian wide runes
// so the size column still lines up for skeleton files with non-ASCII
// names, which a naive len(name) padding would not.
func lsRoot(root *fs.Inode) {
	for _, name := range root.Ls() {
		w := displayWidth(name)
		pad := strings.Repeat(" ", max(1, 24-w))
		ino, errv := root.Find(name)
		size := 0
		if errv == defs.EOK {
			size = int(ino.Size())
		}
		fmt.Printf("%s%s%d bytes\n", name, pad, size)
	}
}

func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		p := width.LookupRune(r)
		switch p.Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
