package fmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Stats counts operations a [Handler] has performed, for callers that poll
// rather than parse log lines. All fields are updated under the handler
// mutex; a caller reading Stats concurrently should copy it out via
// [Handler.Stats].
type Stats struct {
	Commits        uint64
	Deletes        uint64
	CorruptRecords uint64
	Trims          uint64
}

// Handler is the process-wide FMD entry point for one storage server. It
// serializes every mutation on a single [sync.Mutex]: records are small,
// appends are cheap, and the lookup path already holds the mutex only for a
// map lookup plus a positional read, so a finer-grained lock buys nothing
// here (SPEC_FULL.md §5).
//
// The "singleton" the original describes is just this type: construct one
// with [New] and hand every caller the same instance.
type Handler struct {
	mu sync.Mutex

	cfg    Config
	fsys   FS
	logger *slog.Logger
	now    func() int64

	logs  map[uint16]*logFile
	ix    *index
	quota *quota

	stats Stats
}

// New constructs a Handler with no filesystems attached. fsys is the
// filesystem seam (pass [github.com/stormvault/fmdlog/pkg/fs.NewReal] in
// production); nowFn supplies the current unix time and defaults to
// [time.Now] if nil, letting tests pin time.
func New(cfg Config, fsys FS, nowFn func() int64) (*Handler, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}

	return &Handler{
		cfg:    cfg,
		fsys:   fsys,
		logger: cfg.Logger,
		now:    nowFn,
		logs:   make(map[uint16]*logFile),
		ix:     newIndex(),
		quota:  newQuota(),
	}, nil
}

// Stats returns a snapshot of the handler's operation counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}

// AttachLatestChangeLogFile scans dir for the most recently modified
// changelog belonging to fsid and attaches it, creating a fresh one if none
// exists. Always ends by calling [Handler.SetChangeLogFile].
func (h *Handler) AttachLatestChangeLogFile(dir string, fsid uint16) error {
	name, found, err := FindLatestChangeLog(h.fsys, dir, fsid)
	if err != nil {
		return wrap(fmt.Errorf("%w: scan changelog directory: %w", ErrIOFatal, err), withFSID(uint32(fsid)))
	}

	if !found {
		name = ChangeLogName(fsid, h.now())
	}

	return h.SetChangeLogFile(dir, name, fsid)
}

// SetChangeLogFile closes any previously open descriptors for fsid, opens
// basename under dir (creating it with a fresh header if absent), runs the
// boot scanner, and publishes the new descriptors atomically under the
// handler mutex.
func (h *Handler) SetChangeLogFile(dir, basename string, fsid uint16) error {
	path := basename
	if dir != "" {
		path = filepath.Join(dir, basename)
	}

	lf, err := openOrCreateLog(h.fsys, path, fsid, h.now())
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.logs[fsid]; ok {
		_ = old.close()
		h.ix.deleteFS(uint32(fsid))
		h.quota.deleteFS(uint32(fsid))
	}

	h.quota.initRoot(uint32(fsid))

	result, err := scanLog(lf, h.cfg.MmapCapBytes, h.ix, h.quota)
	if err != nil {
		_ = lf.close()
		return err
	}

	lf.nextSeq = result.NextSeq
	h.logs[fsid] = lf
	h.stats.CorruptRecords += uint64(len(result.Issues))

	if h.logger != nil {
		h.logger.Info("fmd: attached changelog",
			"fsid", fsid, "path", path, "records_ok", result.RecordsOK, "corrupt", len(result.Issues))

		for _, issue := range result.Issues {
			h.logger.Warn("fmd: corrupt record during scan",
				"fsid", fsid, "offset", issue.Offset, "err", issue.Err)
		}
	}

	return nil
}

// Reset closes every attached changelog and clears all in-memory state. For
// tests.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, lf := range h.logs {
		_ = lf.close()
	}

	h.logs = make(map[uint16]*logFile)
	h.ix = newIndex()
	h.quota = newQuota()
	h.stats = Stats{}
}

// GetFmd looks up (fsid, fid). If found, it re-reads the record from disk
// and cross-checks that the stored file-id and filesystem-id match the
// lookup key, guarding against index corruption. If absent and
// writeMode is false, it returns (Record{}, false, nil) - "not found" is
// not an error. If absent and writeMode is true, it synthesizes and
// appends a new CREATE record for (fid, fsid, uid, gid, layoutID).
func (h *Handler) GetFmd(fid uint64, fsid uint16, uid, gid, layoutID uint32, writeMode bool) (Record, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lf, ok := h.logs[fsid]
	if !ok {
		return Record{}, false, wrap(ErrNotAttached, withFSID(uint32(fsid)))
	}

	if offset, ok := h.ix.get(uint32(fsid), fid); ok {
		rec, err := lf.readAt(offset)
		if err != nil {
			return Record{}, false, err
		}

		if rec.FID != fid || rec.FSID != uint32(fsid) {
			return Record{}, false, wrap(fmt.Errorf("%w: index points to mismatched record", ErrCorruptMagic),
				withFSID(uint32(fsid)), withFID(fid), withOffset(offset))
		}

		return rec, true, nil
	}

	if !writeMode {
		return Record{}, false, nil
	}

	now := h.now()
	rec := Record{
		Kind:     KindCreate,
		FID:      fid,
		FSID:     uint32(fsid),
		UID:      uid,
		GID:      gid,
		LayoutID: layoutID,
		Ctime:    uint32(now),
		Mtime:    uint32(now),
		Size:     0,
	}

	offset, written, err := lf.append(rec, now)
	if err != nil {
		return Record{}, false, err
	}

	h.ix.set(uint32(fsid), fid, offset, 0)
	h.quota.create(uint32(fsid), uid, gid, 0)

	return written, true, nil
}

// Commit appends record as a logical overwrite of an existing live entry
// (or a first write performed outside [Handler.GetFmd]'s writeMode path).
// It stamps mtime and the next sequence number and updates the index to the
// new offset. When fid already has a live entry, the byte accumulators move
// by (new size - old size) and file counts are unchanged ("overwrite, not
// create/delete"); when it has none, the write is counted as a create (size
// added, both file counts incremented), as the boot scanner does on replay.
func (h *Handler) Commit(record Record) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lf, ok := h.logs[uint16(record.FSID)]
	if !ok {
		return Record{}, wrap(ErrNotAttached, withFSID(record.FSID))
	}

	record.Kind = KindCreate

	oldSize, hadOld := h.ix.sizeOf(record.FSID, record.FID)

	now := h.now()
	record.Mtime = uint32(now)

	offset, written, err := lf.append(record, now)
	if err != nil {
		return Record{}, err
	}

	h.ix.set(record.FSID, record.FID, offset, record.Size)

	if hadOld {
		h.quota.overwrite(record.FSID, record.UID, record.GID, oldSize, record.Size)
	} else {
		h.quota.create(record.FSID, record.UID, record.GID, record.Size)
	}

	h.stats.Commits++

	return written, nil
}

// DeleteFmd tombstones (fsid, fid): idempotent success if no live entry
// exists. Otherwise it commits a DELETE record, erases the index and
// size-cache entries, and decrements the owning principal's file/byte
// counters by the record's last known size.
func (h *Handler) DeleteFmd(fid uint64, fsid uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lf, ok := h.logs[fsid]
	if !ok {
		return wrap(ErrNotAttached, withFSID(uint32(fsid)))
	}

	offset, ok := h.ix.get(uint32(fsid), fid)
	if !ok {
		return nil
	}

	rec, err := lf.readAt(offset)
	if err != nil {
		return err
	}

	rec.Kind = KindDelete

	oldSize, _ := h.ix.sizeOf(uint32(fsid), fid)

	now := h.now()
	rec.Mtime = uint32(now)

	if _, _, err := lf.append(rec, now); err != nil {
		return err
	}

	h.ix.delete(uint32(fsid), fid)
	h.quota.remove(uint32(fsid), rec.UID, rec.GID, oldSize)
	h.stats.Deletes++

	return nil
}

// ForEachFmd calls fn once for every live entry indexed under fsid, in
// unspecified order. Used by the fsck engine to build its fid -> record
// view of the changelog; not on any hot path, so it simply holds the
// handler mutex for the whole walk rather than snapshotting first.
func (h *Handler) ForEachFmd(fsid uint16, fn func(fid uint64, record Record)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lf, ok := h.logs[fsid]
	if !ok {
		return wrap(ErrNotAttached, withFSID(uint32(fsid)))
	}

	var walkErr error

	h.ix.forEachFS(uint32(fsid), func(fid uint64, offset int64) {
		if walkErr != nil {
			return
		}

		rec, err := lf.readAt(offset)
		if err != nil {
			walkErr = err
			return
		}

		fn(fid, rec)
	})

	return walkErr
}

// Quota returns the live quota accumulators for (fsid, principal): user
// bytes, group bytes, user files, group files.
func (h *Handler) Quota(fsid uint16, uid, gid uint32) (userBytes, groupBytes, userFiles, groupFiles uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.quota.UserBytes(uint32(fsid), uid),
		h.quota.GroupBytes(uint32(fsid), gid),
		h.quota.UserFiles(uint32(fsid), uid),
		h.quota.GroupFiles(uint32(fsid), gid)
}
