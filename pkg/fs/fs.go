// Package fs provides the filesystem seam the changelog and fsck engine use
// to reach disk.
//
// Production code talks to [Real], which is a thin passthrough to [os].
// Tests substitute other implementations (see internal/testfs) to inject
// short writes, torn appends, and crash-before-sync behavior without
// touching a real disk.
package fs

import (
	"io"
	"os"
)

// File is an open OS file descriptor.
//
// Satisfied by [os.File]. Implementations must behave like [os.File],
// including that [File.Fd] returns a descriptor usable with positional
// syscalls (pread/pwrite, mmap) for as long as the file stays open.
//
// Implementations must be safe for concurrent use by multiple goroutines;
// the changelog handler serializes its own mutations, but the boot scanner
// and a live writer may hold descriptors to the same file concurrently.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the OS file descriptor, for mmap and flock.
	Fd() uintptr

	// Stat returns file metadata. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits file contents to stable storage. See [os.File.Sync].
	Sync() error

	// Truncate changes the file size. See [os.File.Truncate].
	Truncate(size int64) error
}

// FS is the set of filesystem operations the changelog and fsck engine need.
//
// Paths use OS semantics, not the slash-separated paths of the standard
// library io/fs package.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with the given flags and permissions.
	// See [os.OpenFile]. Use this to create-if-absent and open-for-append.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir lists directory entries sorted by name. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and any missing parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file metadata. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove deletes a single file. See [os.Remove].
	Remove(path string) error

	// Rename moves a file, atomically when source and destination share a
	// filesystem. See [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
