// Package testfs provides a fault-injecting [fs.FS] for crash-safety tests:
// short writes, torn appends, and sync failures on an otherwise-real
// filesystem, without touching actual unreliable hardware.
package testfs

import (
	"errors"
	"io"
	gofs "io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/stormvault/fmdlog/pkg/fs"
)

// ChaosConfig controls fault injection probabilities. Each rate is a
// float64 from 0.0 (never) to 1.0 (always). The zero value disables all
// injection.
type ChaosConfig struct {
	OpenFailRate     float64
	ReadFailRate     float64
	PartialReadRate  float64
	WriteFailRate    float64
	PartialWriteRate float64
	ShortWriteRate   float64
	SyncFailRate     float64
	CloseFailRate    float64
	RemoveFailRate   float64
	RenameFailRate   float64
	StatFailRate     float64
	MkdirAllFailRate float64
	ReadDirFailRate  float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive injects faults according to [ChaosConfig]. Default.
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation through to the wrapped FS.
	ChaosModeNoOp
)

// ChaosError marks an error as intentionally injected by [Chaos]. It wraps
// the underlying error so errors.Is/As keep working.
type ChaosError struct {
	Err error
}

func (e *ChaosError) Error() string { return "testfs: injected: " + e.Err.Error() }
func (e *ChaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *ChaosError
	return errors.As(err, &injected)
}

// Chaos wraps a [fs.FS] and injects random failures for testing. It never
// injects ENOENT (missing-path results always come from the wrapped FS)
// and never injects EINTR (the stdlib retries that internally).
type Chaos struct {
	fsys   fs.FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewChaos wraps fsys with fault injection seeded for reproducibility.
func NewChaos(fsys fs.FS, seed int64, config ChaosConfig) *Chaos {
	if fsys == nil {
		panic("testfs: fsys is nil")
	}

	return &Chaos{fsys: fsys, config: config, rng: rand.New(rand.NewSource(seed))}
}

// SetMode updates Chaos behavior. Safe to call concurrently with operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// SetConfig replaces the active fault rates. Not safe to call concurrently
// with in-flight operations; tests call it between phases of a scenario.
func (c *Chaos) SetConfig(cfg ChaosConfig) { c.config = cfg }

func (c *Chaos) active() bool { return ChaosMode(c.mode.Load()) == ChaosModeActive }

func (c *Chaos) should(rate float64) bool {
	if !c.active() {
		return false
	}

	c.rngMu.Lock()
	v := c.rng.Float64()
	c.rngMu.Unlock()

	return v < rate
}

func (c *Chaos) intn(n int) int {
	c.rngMu.Lock()
	v := c.rng.Intn(n)
	c.rngMu.Unlock()

	return v
}

func pathError(op, path string, errno syscall.Errno) error {
	return &ChaosError{Err: &gofs.PathError{Op: op, Path: path, Err: errno}}
}

func linkError(op, oldpath, newpath string, errno syscall.Errno) error {
	return &ChaosError{Err: &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: errno}}
}

func (c *Chaos) Open(path string) (fs.File, error) {
	if c.should(c.config.OpenFailRate) {
		return nil, pathError("open", path, syscall.EIO)
	}

	f, err := c.fsys.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (fs.File, error) {
	if c.should(c.config.OpenFailRate) {
		errno := syscall.EIO
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
			errno = syscall.ENOSPC
		}

		return nil, pathError("open", path, errno)
	}

	f, err := c.fsys.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if c.should(c.config.ReadDirFailRate) {
		return nil, pathError("readdir", path, syscall.EIO)
	}

	return c.fsys.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirAllFailRate) {
		return pathError("mkdirall", path, syscall.EACCES)
	}

	return c.fsys.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		return nil, pathError("stat", path, syscall.EIO)
	}

	return c.fsys.Stat(path)
}

func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		return pathError("remove", path, syscall.EBUSY)
	}

	return c.fsys.Remove(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.should(c.config.RenameFailRate) {
		return linkError("rename", oldpath, newpath, syscall.EXDEV)
	}

	return c.fsys.Rename(oldpath, newpath)
}

// chaosFile wraps a [fs.File] and injects faults on Read/Write/ReadAt/WriteAt.
//
// The changelog only ever appends (WriteAt at EOF) and reads back committed
// records (ReadAt); Read/Write/Seek exist for interface completeness and for
// the boot scanner's sequential passes.
type chaosFile struct {
	f     fs.File
	chaos *Chaos
	path  string
}

var _ fs.File = (*chaosFile)(nil)

func (cf *chaosFile) Read(p []byte) (int, error) {
	if cf.chaos.should(cf.chaos.config.ReadFailRate) {
		return 0, pathError("read", cf.path, syscall.EIO)
	}

	if cf.chaos.should(cf.chaos.config.PartialReadRate) && len(p) > 1 {
		cutoff := cf.chaos.intn(len(p)-1) + 1
		return cf.f.Read(p[:cutoff])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) ReadAt(p []byte, off int64) (int, error) {
	if cf.chaos.should(cf.chaos.config.ReadFailRate) {
		return 0, pathError("read", cf.path, syscall.EIO)
	}

	if cf.chaos.should(cf.chaos.config.PartialReadRate) && len(p) > 1 {
		cutoff := cf.chaos.intn(len(p)-1) + 1
		n, err := cf.f.ReadAt(p[:cutoff], off)

		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		return n, err
	}

	return cf.f.ReadAt(p, off)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	return cf.writeLike(p, func(b []byte) (int, error) { return cf.f.Write(b) })
}

func (cf *chaosFile) WriteAt(p []byte, off int64) (int, error) {
	return cf.writeLike(p, func(b []byte) (int, error) { return cf.f.WriteAt(b, off) })
}

// writeLike applies the shared fail/partial-write fault model around do,
// which performs the real (positional or sequential) write.
func (cf *chaosFile) writeLike(p []byte, do func([]byte) (int, error)) (int, error) {
	if cf.chaos.should(cf.chaos.config.WriteFailRate) {
		return 0, pathError("write", cf.path, syscall.ENOSPC)
	}

	if cf.chaos.should(cf.chaos.config.PartialWriteRate) && len(p) > 1 {
		cutoff := cf.chaos.intn(len(p)-1) + 1

		n, err := do(p[:cutoff])
		if err != nil {
			return n, err
		}

		if cf.chaos.should(cf.chaos.config.ShortWriteRate) {
			return n, &ChaosError{Err: io.ErrShortWrite}
		}

		return n, pathError("write", cf.path, syscall.ENOSPC)
	}

	return do(p)
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Fd() uintptr { return cf.f.Fd() }

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	if cf.chaos.should(cf.chaos.config.StatFailRate) {
		return nil, pathError("stat", cf.path, syscall.EIO)
	}

	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	if cf.chaos.should(cf.chaos.config.SyncFailRate) {
		return pathError("fsync", cf.path, syscall.EIO)
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Truncate(size int64) error {
	return cf.f.Truncate(size)
}

func (cf *chaosFile) Close() error {
	injected := cf.chaos.should(cf.chaos.config.CloseFailRate)

	if err := cf.f.Close(); err != nil {
		return err
	}

	if injected {
		return pathError("close", cf.path, syscall.EIO)
	}

	return nil
}

var _ fs.FS = (*Chaos)(nil)
