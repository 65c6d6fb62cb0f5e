package fmd

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"syscall"
)

// logFileRe matches a whole changelog basename, fmd.<unixseconds>.<fsid:04d>.mdlog;
// its second group is the filesystem id, zero-padded to at least four digits.
var logFileRe = regexp.MustCompile(`^fmd\.(\d+)\.(\d{4,})\.mdlog$`)

// ChangeLogName builds the canonical basename for a fresh changelog file.
func ChangeLogName(fsid uint16, now int64) string {
	return fmt.Sprintf("fmd.%d.%04d.mdlog", now, fsid)
}

// FindLatestChangeLog scans dir for changelog files belonging to fsid and
// returns the basename of the most recently modified one, or ("", false)
// if none exist.
func FindLatestChangeLog(fsys FS, dir string, fsid uint16) (string, bool, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return "", false, err
	}

	type candidate struct {
		name    string
		modTime int64
	}

	var candidates []candidate

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		m := logFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		fsidInFile, err := strconv.ParseUint(m[2], 10, 16)
		if err != nil || uint16(fsidInFile) != fsid {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		candidates = append(candidates, candidate{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}

	if len(candidates) == 0 {
		return "", false, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })

	return candidates[0].name, true, nil
}

// LocalReplicaPath computes the on-disk path of a local replica under
// prefix for fid, bucketed fanout files per directory:
//
//	<prefix>/<fid/fanout in 8-hex-digit zero-padded>/<fid as 16-hex-digits>
func LocalReplicaPath(prefix string, fid uint64, fanout int) string {
	if fanout <= 0 {
		fanout = defaultBucketFanout
	}

	bucket := fid / uint64(fanout)

	return filepath.Join(prefix, fmt.Sprintf("%08x", bucket), fmt.Sprintf("%016x", fid))
}

// ParseFSIDFromLogName extracts the filesystem id encoded in a changelog
// basename, used by the fsck tool when it is invoked with only a log path.
func ParseFSIDFromLogName(name string) (uint16, error) {
	m := logFileRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, fmt.Errorf("fmd: %q does not match fmd.<ts>.<fsid>.mdlog", name)
	}

	fsid, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("fmd: parse fsid from %q: %w", name, err)
	}

	return uint16(fsid), nil
}

// FileOwnerUID returns the UID that owns the file at path, used by the
// fsck CLI's daemon-account guard (§6).
func FileOwnerUID(fsys FS, path string) (uint32, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return 0, fmt.Errorf("fmd: cannot determine owner of %q on this platform", path)
	}

	return st.Uid, nil
}
