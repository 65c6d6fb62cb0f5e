package fmd

import (
	"errors"
	"fmt"
)

// Sentinel error classes. Callers classify failures with [errors.Is].
// Not every error this package returns wraps one of these: config
// validation, changelog-name parsing, and the stat/open calls that begin an
// attach return plain or OS-level errors.
var (
	// ErrCorruptMagic reports a record whose magic tag is neither CREATE
	// nor DELETE.
	ErrCorruptMagic = errors.New("fmd: corrupt: invalid magic")

	// ErrCorruptCRC reports a record whose CRC-32C does not match its
	// integrity-covered span.
	ErrCorruptCRC = errors.New("fmd: corrupt: crc mismatch")

	// ErrCorruptSeqOrder reports a record whose sequence number did not
	// strictly advance over the previous record in the log.
	ErrCorruptSeqOrder = errors.New("fmd: corrupt: sequence did not advance")

	// ErrCorruptTorn reports a record whose header and trailer sequence
	// numbers disagree, indicating a torn (partial) write.
	ErrCorruptTorn = errors.New("fmd: corrupt: torn write")

	// ErrHeaderMagic reports a log file whose header magic does not match
	// the expected constant.
	ErrHeaderMagic = errors.New("fmd: header: bad magic")

	// ErrHeaderVersion reports a log file whose header version string does
	// not match the version this build writes.
	ErrHeaderVersion = errors.New("fmd: header: version mismatch")

	// ErrNotAttached reports an operation against a filesystem with no
	// open changelog.
	ErrNotAttached = errors.New("fmd: filesystem not attached")

	// ErrNotFound reports a read-mode lookup of an unknown file id.
	ErrNotFound = errors.New("fmd: not found")

	// ErrIOFatal reports a short read/write, stat failure, or mmap failure.
	// The owning filesystem should be treated as unavailable.
	ErrIOFatal = errors.New("fmd: fatal io error")

	// ErrSizeLimit reports a changelog that exceeds the configured
	// memory-map cap; it must be trimmed before it can be attached.
	ErrSizeLimit = errors.New("fmd: changelog exceeds mmap cap, trim required")

	// ErrDecodeFailed reports a text-form record missing a required key or
	// failing base64 decoding.
	ErrDecodeFailed = errors.New("fmd: decode failed")
)

// Error is the uniform error type returned by package fmd's public API.
// It attaches the filesystem id, file id, and byte offset relevant to the
// failure, when known.
//
// Use [errors.As] to recover structured fields:
//
//	var ferr *fmd.Error
//	if errors.As(err, &ferr) {
//	    log.Printf("fsid=%d fid=%#x offset=%d: %v", ferr.FSID, ferr.FID, ferr.Offset, ferr.Err)
//	}
//
// Use [errors.Is] against the sentinels above to classify the failure.
type Error struct {
	FSID   uint32
	FID    uint64
	Offset int64
	HasFID bool
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	parts := fmt.Sprintf("fsid=%d", e.FSID)
	if e.HasFID {
		parts += fmt.Sprintf(" fid=%#x", e.FID)
	}

	if e.Offset != 0 {
		parts += fmt.Sprintf(" offset=%d", e.Offset)
	}

	return "(" + parts + ")"
}

// errOpt configures an [Error] during construction via [wrap].
type errOpt func(*Error)

func withFSID(fsid uint32) errOpt {
	return func(e *Error) { e.FSID = fsid }
}

func withFID(fid uint64) errOpt {
	return func(e *Error) { e.FID = fid; e.HasFID = true }
}

func withOffset(off int64) errOpt {
	return func(e *Error) { e.Offset = off }
}

// wrap attaches changelog context to err. Returns nil if err is nil.
func wrap(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	existing := &Error{}

	isDirect := errors.As(err, &existing)
	if isDirect && len(opts) == 0 {
		return existing
	}

	e := &Error{Err: err}

	if isDirect {
		e.FSID = existing.FSID
		e.FID = existing.FID
		e.HasFID = existing.HasFID
		e.Offset = existing.Offset
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
