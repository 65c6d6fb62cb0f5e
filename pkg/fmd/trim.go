package fmd

import (
	"fmt"
	"sort"
)

// TrimResult reports what a completed trim did, for logging and tests.
type TrimResult struct {
	LiveRecords int
	BytesBefore int64
	BytesAfter  int64
	NewLogPath  string
}

// Trim performs online compaction of fsid's changelog: it writes a new log
// containing exactly one record per live file-id (the latest), drops every
// DELETE tombstone and every superseded CREATE, and swaps the handler's
// descriptors to the new file. Readers and writers are blocked only for the
// brief windows documented at each phase below; the bulk of the I/O (phase
// 1's copy of live records) runs without the handler mutex held.
//
// A crash at any point before the final swap leaves the old log intact and
// fully valid: the new file is strictly additive until that moment
// (SPEC_FULL.md §4.7).
func (h *Handler) Trim(fsid16 uint16, newPath string) (TrimResult, error) {
	h.mu.Lock()

	lf, ok := h.logs[fsid16]
	if !ok {
		h.mu.Unlock()
		return TrimResult{}, wrap(ErrNotAttached, withFSID(uint32(fsid16)))
	}

	fsid := uint32(fsid16)

	// Snapshot the live offset set and the old log's current write
	// position ("fence") before releasing the mutex. Sorting by offset
	// turns the phase-1 copy into a sequential scan of the old file.
	type liveEntry struct {
		fid    uint64
		offset int64
	}

	var live []liveEntry

	h.ix.forEachFS(fsid, func(fid uint64, offset int64) {
		live = append(live, liveEntry{fid: fid, offset: offset})
	})

	sort.Slice(live, func(i, j int) bool { return live[i].offset < live[j].offset })

	fence, err := lf.size()
	if err != nil {
		h.mu.Unlock()
		return TrimResult{}, err
	}

	now := h.now()

	h.mu.Unlock()

	newLf, err := openOrCreateLog(h.fsys, newPath, fsid16, now)
	if err != nil {
		return TrimResult{}, err
	}

	// Phase 1: copy every live record, without the handler mutex held.
	sideMap := make(map[int64]int64, len(live))

	for _, e := range live {
		rec, err := lf.readAt(e.offset)
		if err != nil {
			_ = newLf.close()
			return TrimResult{}, err
		}

		newOffset, _, err := newLf.append(rec, now)
		if err != nil {
			_ = newLf.close()
			return TrimResult{}, err
		}

		sideMap[e.offset] = newOffset
	}

	newLogPositionBeforeTail := newLf.writeOffset

	// Phase 2: re-acquire the mutex, capture whatever was appended to the
	// old log between the snapshot and now (offset >= fence), verbatim.
	h.mu.Lock()
	defer h.mu.Unlock()

	currentLf, ok := h.logs[fsid16]
	if !ok || currentLf != lf {
		_ = newLf.close()
		return TrimResult{}, wrap(fmt.Errorf("fmd: changelog for fsid %d was reattached during trim", fsid16))
	}

	oldEnd, err := lf.size()
	if err != nil {
		_ = newLf.close()
		return TrimResult{}, err
	}

	if oldEnd > fence {
		tailBuf := make([]byte, oldEnd-fence)

		n, err := lf.read.ReadAt(tailBuf, fence)
		if err != nil && int64(n) != oldEnd-fence {
			_ = newLf.close()
			return TrimResult{}, wrap(fmt.Errorf("%w: read trim tail: %w", ErrIOFatal, err), withFSID(fsid))
		}

		if _, err := newLf.write.WriteAt(tailBuf, newLf.writeOffset); err != nil {
			_ = newLf.close()
			return TrimResult{}, wrap(fmt.Errorf("%w: write trim tail: %w", ErrIOFatal, err), withFSID(fsid))
		}

		newLf.writeOffset += int64(len(tailBuf))

		// The tail was copied verbatim via WriteAt, bypassing append's
		// sequence stamping, so it keeps whatever sequence numbers it
		// carried in the old log - higher than the re-sequenced live
		// records phase 1 just wrote. newLf.nextSeq must track the
		// highest sequence actually present in the file, or the first
		// post-trim append stamps a number the boot scanner has already
		// seen earlier in the same file and rejects as out-of-order.
		for off := 0; off+recordSize <= len(tailBuf); off += recordSize {
			rec, ok := decodeRecord(tailBuf[off : off+recordSize])
			if !ok {
				continue
			}

			if rec.SequenceHeader > newLf.nextSeq {
				newLf.nextSeq = rec.SequenceHeader
			}
		}
	}

	// tailDelta translates an old-log offset >= fence into its new-log
	// position. It must never be negative: the tail, once copied, cannot
	// sit later in the new file than it did in the old one, because the
	// phase-1 live records never outgrow the old log up to the fence. A negative value here is a programmer error in the
	// phase-1/phase-2 bookkeeping above, not a runtime condition a caller
	// can provoke, so it panics rather than returning an error.
	tailDelta := fence - newLogPositionBeforeTail
	if tailDelta < 0 {
		panic(fmt.Sprintf("fmd: trim: tailDelta went negative (fence=%d, newLogPositionBeforeTail=%d)",
			fence, newLogPositionBeforeTail))
	}

	// Rebind every index entry for this filesystem: offsets at or past
	// the fence shift by tailDelta; everything else comes from sideMap.
	rebound := make(map[uint64]int64, len(live))

	h.ix.forEachFS(fsid, func(fid uint64, offset int64) {
		if offset >= fence {
			rebound[fid] = offset - tailDelta
			return
		}

		newOffset, ok := sideMap[offset]
		if !ok {
			panic(fmt.Sprintf("fmd: trim: offset %d missing from side map for fsid %d fid %#x", offset, fsid, fid))
		}

		rebound[fid] = newOffset
	})

	for fid, offset := range rebound {
		size, _ := h.ix.sizeOf(fsid, fid)
		h.ix.set(fsid, fid, offset, size)
	}

	_ = lf.close()

	h.logs[fsid16] = newLf
	h.stats.Trims++

	if h.logger != nil {
		h.logger.Info("fmd: trim complete",
			"fsid", fsid16, "live_records", len(live), "bytes_before", oldEnd, "bytes_after", newLf.writeOffset,
			"path", newPath)
	}

	return TrimResult{
		LiveRecords: len(live),
		BytesBefore: oldEnd,
		BytesAfter:  newLf.writeOffset,
		NewLogPath:  newPath,
	}, nil
}
