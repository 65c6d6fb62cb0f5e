package fmd

import (
	"fmt"
	"io"
	"os"

	"github.com/stormvault/fmdlog/pkg/fs"
)

// logFile is one filesystem's on-disk changelog: a header followed by
// packed [Record]s. It owns one read descriptor and one write descriptor,
// matching the source's split (a duplicated read fd lets the fsck tool and
// the trimmer walk the file without fighting the live writer's position).
type logFile struct {
	fsys FS

	read  fs.File
	write fs.File

	path string
	fsid uint16

	// nextSeq is the last sequence number assigned in this file; the next
	// append call assigns nextSeq+1.
	nextSeq uint32

	// writeOffset mirrors the write descriptor's current end-of-file
	// position so append can report the pre-write offset without an
	// extra syscall.
	writeOffset int64
}

// FS is the subset of [fs.FS] the changelog needs; aliased here so callers
// outside this package can implement it without importing pkg/fs directly.
type FS = fs.FS

// openOrCreateLog opens path for a given fsid, creating it with a fresh
// header if absent. The returned logFile's nextSeq is left at zero; the
// boot scanner is responsible for setting it from the highest sequence
// number found during the scan.
func openOrCreateLog(fsys FS, path string, fsid uint16, now int64) (*logFile, error) {
	existed, err := statExists(fsys, path)
	if err != nil {
		return nil, wrap(fmt.Errorf("stat changelog: %w", err), withFSID(uint32(fsid)))
	}

	writeFlags := os.O_RDWR | os.O_CREATE
	wf, err := fsys.OpenFile(path, writeFlags, 0o600)
	if err != nil {
		return nil, wrap(fmt.Errorf("open changelog write handle: %w", err), withFSID(uint32(fsid)))
	}

	rf, err := fsys.Open(path)
	if err != nil {
		_ = wf.Close()
		return nil, wrap(fmt.Errorf("open changelog read handle: %w", err), withFSID(uint32(fsid)))
	}

	lf := &logFile{fsys: fsys, read: rf, write: wf, path: path, fsid: fsid}

	if !existed {
		hdr := encodeLogHeader(newLogHeader(fsid, now))

		n, err := wf.Write(hdr)
		if err != nil || n != len(hdr) {
			_ = rf.Close()
			_ = wf.Close()

			return nil, wrap(fmt.Errorf("%w: write header: %w", ErrIOFatal, err), withFSID(uint32(fsid)))
		}

		if err := wf.Sync(); err != nil {
			_ = rf.Close()
			_ = wf.Close()

			return nil, wrap(fmt.Errorf("%w: sync header: %w", ErrIOFatal, err), withFSID(uint32(fsid)))
		}

		lf.writeOffset = int64(logHeaderSize)

		return lf, nil
	}

	hdrBuf := make([]byte, logHeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(rf, 0, logHeaderSize), hdrBuf); err != nil {
		_ = rf.Close()
		_ = wf.Close()

		return nil, wrap(fmt.Errorf("%w: read header: %w", ErrIOFatal, err), withFSID(uint32(fsid)))
	}

	_, magicOK, versionOK := decodeLogHeader(hdrBuf)
	if !magicOK {
		_ = rf.Close()
		_ = wf.Close()

		return nil, wrap(ErrHeaderMagic, withFSID(uint32(fsid)))
	}

	if !versionOK {
		_ = rf.Close()
		_ = wf.Close()

		return nil, wrap(ErrHeaderVersion, withFSID(uint32(fsid)))
	}

	info, err := wf.Stat()
	if err != nil {
		_ = rf.Close()
		_ = wf.Close()

		return nil, wrap(fmt.Errorf("%w: stat changelog: %w", ErrIOFatal, err), withFSID(uint32(fsid)))
	}

	lf.writeOffset = info.Size()

	return lf, nil
}

func statExists(fsys FS, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// append stamps sequence numbers, fixes mtime if unset, computes CRC, and
// writes r as a single block at the current write position. Returns the
// pre-write byte offset - the value callers store in the index.
func (lf *logFile) append(r Record, now int64) (int64, Record, error) {
	r.SequenceHeader = lf.nextSeq + 1
	r.SequenceTrailer = r.SequenceHeader

	if r.Mtime == 0 {
		r.Mtime = uint32(now)
	}

	buf := encodeRecord(r)

	offset := lf.writeOffset

	n, err := lf.write.WriteAt(buf, offset)
	if err != nil || n != len(buf) {
		return 0, Record{}, wrap(fmt.Errorf("%w: append record: %w", ErrIOFatal, err),
			withFSID(r.FSID), withFID(r.FID), withOffset(offset))
	}

	lf.writeOffset += int64(len(buf))
	lf.nextSeq = r.SequenceHeader

	return offset, r, nil
}

// readAt performs a positional read of exactly one record at offset.
func (lf *logFile) readAt(offset int64) (Record, error) {
	buf := make([]byte, recordSize)

	n, err := lf.read.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && n == recordSize) {
		return Record{}, wrap(fmt.Errorf("%w: read record: %w", ErrIOFatal, err), withOffset(offset))
	}

	if n != recordSize {
		return Record{}, wrap(fmt.Errorf("%w: short read at offset %d", ErrIOFatal, offset), withOffset(offset))
	}

	rec, ok := decodeRecord(buf)
	if !ok {
		return Record{}, wrap(ErrCorruptMagic, withOffset(offset))
	}

	return rec, nil
}

func (lf *logFile) size() (int64, error) {
	info, err := lf.write.Stat()
	if err != nil {
		return 0, wrap(fmt.Errorf("%w: stat changelog: %w", ErrIOFatal, err))
	}

	return info.Size(), nil
}

func (lf *logFile) close() error {
	rErr := lf.read.Close()
	wErr := lf.write.Close()

	if rErr != nil {
		return rErr
	}

	return wErr
}
