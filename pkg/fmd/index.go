package fmd

// fsidFid is the composite key under which the index stores offsets:
// the spec's "(filesystem-id, file-id)" pair packed into one comparable
// value so the index can be a single map instead of a map of maps.
type fsidFid struct {
	fsid uint32
	fid  uint64
}

// index maps (fsid, fid) to the byte offset of the latest record for that
// file id, plus a companion fid -> size cache so Commit and DeleteFmd can
// compute quota deltas without re-reading the superseded record.
//
// Both maps are pure, rebuildable caches of the log content (invariant 5 in
// the data model): nothing here is ever the sole copy of a fact.
type index struct {
	offsets map[fsidFid]int64
	sizes   map[fsidFid]uint64
}

func newIndex() *index {
	return &index{
		offsets: make(map[fsidFid]int64),
		sizes:   make(map[fsidFid]uint64),
	}
}

func (ix *index) get(fsid uint32, fid uint64) (int64, bool) {
	off, ok := ix.offsets[fsidFid{fsid, fid}]
	return off, ok
}

func (ix *index) sizeOf(fsid uint32, fid uint64) (uint64, bool) {
	sz, ok := ix.sizes[fsidFid{fsid, fid}]
	return sz, ok
}

func (ix *index) set(fsid uint32, fid uint64, offset int64, size uint64) {
	key := fsidFid{fsid, fid}
	ix.offsets[key] = offset
	ix.sizes[key] = size
}

func (ix *index) delete(fsid uint32, fid uint64) {
	key := fsidFid{fsid, fid}
	delete(ix.offsets, key)
	delete(ix.sizes, key)
}

// deleteFS drops every entry belonging to fsid, used when a filesystem is
// reattached (SetChangeLogFile closes and rescans).
func (ix *index) deleteFS(fsid uint32) {
	for k := range ix.offsets {
		if k.fsid == fsid {
			delete(ix.offsets, k)
			delete(ix.sizes, k)
		}
	}
}

// countFS returns the number of live entries for fsid. Only tests call it.
func (ix *index) countFS(fsid uint32) int {
	n := 0

	for k := range ix.offsets {
		if k.fsid == fsid {
			n++
		}
	}

	return n
}

// forEachFS calls fn for every (fid, offset) entry belonging to fsid. Used
// by the trimmer to snapshot the live set.
func (ix *index) forEachFS(fsid uint32, fn func(fid uint64, offset int64)) {
	for k, off := range ix.offsets {
		if k.fsid == fsid {
			fn(k.fid, off)
		}
	}
}
