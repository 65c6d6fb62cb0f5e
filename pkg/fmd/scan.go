package fmd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ScanIssue records one record that failed validation during a boot scan.
// The scanner tolerates intra-file corruption: it records the issue and
// keeps walking so the surviving records remain usable (SPEC_FULL.md §7).
type ScanIssue struct {
	Offset int64
	Err    error
}

// ScanResult summarizes a completed boot scan.
type ScanResult struct {
	NextSeq   uint32
	Issues    []ScanIssue
	RecordsOK int
}

// OK reports whether the scan found zero invalid records.
func (r ScanResult) OK() bool { return len(r.Issues) == 0 }

// scanLog walks every record in the changelog at path via a read-only mmap,
// rebuilding ix and q as it goes, and returns the highest sequence number
// seen. Scanning is read-only: no record is ever rewritten here, only Trim
// rewrites the log (SPEC_FULL.md §4.6).
func scanLog(lf *logFile, cap int64, ix *index, q *quota) (ScanResult, error) {
	size, err := lf.size()
	if err != nil {
		return ScanResult{}, err
	}

	if size <= logHeaderSize {
		return ScanResult{}, nil
	}

	if size > cap {
		return ScanResult{}, wrap(fmt.Errorf("%w: changelog is %d bytes, cap is %d", ErrSizeLimit, size, cap),
			withFSID(uint32(lf.fsid)))
	}

	data, err := unix.Mmap(int(lf.read.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return ScanResult{}, wrap(fmt.Errorf("%w: mmap changelog: %w", ErrIOFatal, err), withFSID(uint32(lf.fsid)))
	}

	defer func() { _ = unix.Munmap(data) }()

	return walkRecords(data, ix, q), nil
}

// walkRecords applies the scanner algorithm to an in-memory buffer. Split
// out from scanLog so tests can exercise corruption handling against a
// plain []byte without mmap or a real file.
func walkRecords(data []byte, ix *index, q *quota) ScanResult {
	var result ScanResult

	var expectedSeq uint32

	body := data[logHeaderSize:]

	for off := 0; off+recordSize <= len(body); off += recordSize {
		absOffset := int64(logHeaderSize + off)
		buf := body[off : off+recordSize]

		rec, ok := decodeRecord(buf)
		if !ok {
			result.Issues = append(result.Issues, ScanIssue{Offset: absOffset, Err: ErrCorruptMagic})
			continue
		}

		if err := validateRecord(buf, rec, &expectedSeq); err != nil {
			result.Issues = append(result.Issues, ScanIssue{Offset: absOffset, Err: err})
			continue
		}

		applyRecordToState(rec, absOffset, ix, q)
		result.RecordsOK++
	}

	result.NextSeq = expectedSeq

	return result
}

// applyRecordToState folds one valid record into the index and quota
// accumulators, exactly the transitions performed incrementally by Commit
// and DeleteFmd (§4.6 steps 5-6): a CREATE that overwrites an existing
// cached size nets out the old contribution before adding the new one, so
// replaying a log with many overwrites of the same file yields the same
// final counters as tracking them live would.
func applyRecordToState(rec Record, offset int64, ix *index, q *quota) {
	q.initRoot(rec.FSID)

	if rec.IsDelete() {
		if oldSize, ok := ix.sizeOf(rec.FSID, rec.FID); ok {
			q.remove(rec.FSID, rec.UID, rec.GID, oldSize)
		}

		ix.delete(rec.FSID, rec.FID)

		return
	}

	if oldSize, existed := ix.sizeOf(rec.FSID, rec.FID); existed {
		q.overwrite(rec.FSID, rec.UID, rec.GID, oldSize, rec.Size)
	} else {
		q.create(rec.FSID, rec.UID, rec.GID, rec.Size)
	}

	ix.set(rec.FSID, rec.FID, offset, rec.Size)
}
