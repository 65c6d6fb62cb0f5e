// Package fsck implements the offline reconciliation engine that
// cross-checks a changelog against the local disk inventory and against
// the central namespace catalog (SPEC_FULL.md §4.8).
package fsck

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fmd/catalog"
	"github.com/stormvault/fmdlog/pkg/fmd/checksum"
	"github.com/stormvault/fmdlog/pkg/fmd/envcodec"
	"github.com/stormvault/fmdlog/pkg/fs"
)

// ExitCode mirrors the taxonomy in SPEC_FULL.md §6.
type ExitCode int

const (
	ExitClean                ExitCode = 0
	ExitCheckFailed          ExitCode = 1
	ExitTrimFailed           ExitCode = 2
	ExitRenameFailed         ExitCode = 3
	ExitDataDirError         ExitCode = 4
	ExitInconsistenciesFound ExitCode = 5
	ExitCatalogUnreachable   ExitCode = 6
	ExitCatalogInconsistent  ExitCode = 7
	ExitUploadOrDropFailed   ExitCode = 8
)

// Options configures one fsck run, one field per CLI flag in SPEC_FULL.md §6.
type Options struct {
	Force                  bool
	Dump                   bool
	Trim                   bool
	Inplace                bool
	DataDir                string
	DeleteMissingChangelog bool
	Show                   bool
	RepairLocal            bool
	RepairCache            bool
	Checksum               bool
	UploadFid              string // hex fid, "*" for all missing, or "" to disable
	DeleteEnoent           bool
	DeleteDeleted          bool
	Quiet                  bool

	// Confirm is consulted before any destructive, interactively-gated
	// action (DeleteMissingChangelog). Callers wire this to a
	// github.com/peterh/liner prompt; tests can stub it. A nil Confirm
	// always answers no, the conservative default ("never delete user
	// data" per SPEC_FULL.md §4.8 policy).
	Confirm func(prompt string) bool
}

func (o Options) confirm(prompt string) bool {
	if o.Confirm == nil {
		return false
	}

	return o.Confirm(prompt)
}

// Summary is the structured result of one fsck run.
type Summary struct {
	MissingInChangelog   int // Direction A
	MissingOnDisk        int // Direction B
	SizeMismatch         int
	CtimeMismatch        int
	MtimeMismatch        int
	ChecksumMismatch     int
	CatalogFieldMismatch map[string]int // Direction C, per comparable field
	MissingInCatalog     int            // Direction D
	OrphansDeleted       int
	LocalRepairs         int
	ChecksumRepairs      int
	Uploads              int
	Drops                int

	Worst ExitCode
}

func newSummary() *Summary {
	return &Summary{CatalogFieldMismatch: make(map[string]int)}
}

func (s *Summary) raise(code ExitCode) {
	if code > s.Worst {
		s.Worst = code
	}
}

// Engine drives one fsck run against an attached [fmd.Handler].
type Engine struct {
	Handler  *fmd.Handler
	FS       fs.FS
	Catalog  catalog.Client // nil disables Directions C and D
	Checksum checksum.Plugin
	Logger   *slog.Logger
	Fanout   int
}

// Run executes the full algorithm against fsid and returns a structured
// summary. opts.DataDir enables Directions A/B; e.Catalog != nil enables
// Directions C/D. Every mutating action requires its own explicit opts
// field; the zero-value Options performs a read-only dry run.
func (e *Engine) Run(fsid uint16, opts Options) (*Summary, error) {
	summary := newSummary()

	indexed := make(map[uint64]fmd.Record)

	if err := e.Handler.ForEachFmd(fsid, func(fid uint64, rec fmd.Record) {
		indexed[fid] = rec
	}); err != nil {
		summary.raise(ExitCheckFailed)
		return summary, err
	}

	if opts.Dump {
		for fid, rec := range indexed {
			e.logf("fmd dump: fid=%#x %s", fid, envcodec.FmdToEnv(rec))
		}
	}

	var onDisk map[uint64]string

	if opts.DataDir != "" {
		var err error

		onDisk, err = e.walkLocalReplicas(opts.DataDir)
		if err != nil {
			summary.raise(ExitDataDirError)
			return summary, err
		}

		e.directionA(fsid, indexed, onDisk, opts, summary)
		e.directionB(fsid, indexed, onDisk, opts, summary)

		if opts.Checksum {
			e.checksumPass(fsid, indexed, onDisk, opts, summary)
		}
	}

	if e.Catalog != nil {
		if err := e.directionsCD(fsid, indexed, opts, summary); err != nil {
			summary.raise(ExitCatalogUnreachable)
			return summary, err
		}
	}

	if summary.Worst == ExitClean &&
		(summary.MissingInChangelog > 0 || summary.MissingOnDisk > 0 ||
			summary.SizeMismatch > 0 || summary.CtimeMismatch > 0 || summary.MtimeMismatch > 0) {
		summary.raise(ExitInconsistenciesFound)
	}

	if summary.Worst == ExitClean && len(summary.CatalogFieldMismatch) > 0 {
		summary.raise(ExitCatalogInconsistent)
	}

	return summary, nil
}

// directionA reports disk replicas absent from the changelog index and,
// when confirmed, unlinks the orphan.
func (e *Engine) directionA(fsid uint16, indexed map[uint64]fmd.Record, onDisk map[uint64]string, opts Options, summary *Summary) {
	for fid, path := range onDisk {
		if _, ok := indexed[fid]; ok {
			continue
		}

		summary.MissingInChangelog++
		e.logf("fsck: fid=%#x fsid=%d missing-in-changelog path=%s", fid, fsid, path)

		if !opts.DeleteMissingChangelog {
			continue
		}

		if !opts.confirm(fmt.Sprintf("delete orphan %s (fid=%#x not in changelog)?", path, fid)) {
			continue
		}

		if err := e.FS.Remove(path); err != nil {
			e.logf("fsck: fid=%#x failed to delete orphan: %v", fid, err)
			continue
		}

		summary.OrphansDeleted++
	}
}

// directionB stats every indexed fid's on-disk replica and reports replicas
// missing on disk and size mismatches; repair-local rewrites the FMD size to
// match disk and commits. Ctime and mtime are not compared against disk, so
// Summary.CtimeMismatch and Summary.MtimeMismatch stay zero.
func (e *Engine) directionB(fsid uint16, indexed map[uint64]fmd.Record, onDisk map[uint64]string, opts Options, summary *Summary) {
	for fid, rec := range indexed {
		path, ok := onDisk[fid]
		if !ok {
			summary.MissingOnDisk++
			e.logf("fsck: fid=%#x fsid=%d missing-on-disk", fid, fsid)

			continue
		}

		info, err := e.FS.Stat(path)
		if err != nil {
			e.logf("fsck: fid=%#x stat failed: %v", fid, err)
			continue
		}

		diskSize := uint64(info.Size())

		sizeMismatch := diskSize != rec.Size
		if sizeMismatch {
			summary.SizeMismatch++
			e.logf("fsck: fid=%#x fsid=%d size mismatch: log=%d disk=%d", fid, fsid, rec.Size, diskSize)
		}

		if sizeMismatch && opts.RepairLocal {
			rec.Size = diskSize

			if _, err := e.Handler.Commit(rec); err != nil {
				e.logf("fsck: fid=%#x repair-local failed: %v", fid, err)
				continue
			}

			summary.LocalRepairs++
		}
	}
}

// checksumPass recomputes digests for fids whose last-known checksum does
// not match what e.Checksum computes from the on-disk replica.
func (e *Engine) checksumPass(fsid uint16, indexed map[uint64]fmd.Record, onDisk map[uint64]string, opts Options, summary *Summary) {
	if e.Checksum == nil {
		return
	}

	for fid, rec := range indexed {
		path, ok := onDisk[fid]
		if !ok {
			continue
		}

		digest, err := e.Checksum.Compute(path, rec.LayoutID)
		if err != nil {
			e.logf("fsck: fid=%#x checksum compute failed: %v", fid, err)
			continue
		}

		var padded [20]byte
		copy(padded[:], digest)

		if padded == rec.Checksum {
			continue
		}

		summary.ChecksumMismatch++
		e.logf("fsck: fid=%#x fsid=%d checksum mismatch", fid, fsid)

		rec.Checksum = padded

		if _, err := e.Handler.Commit(rec); err != nil {
			e.logf("fsck: fid=%#x checksum repair failed: %v", fid, err)
			continue
		}

		summary.ChecksumRepairs++

		if opts.RepairCache && e.Catalog != nil {
			if err := e.Catalog.Commit(rec); err != nil {
				e.logf("fsck: fid=%#x checksum repair-cache failed: %v", fid, err)
			}
		}
	}
}

// directionsCD fetches the central catalog's dump for fsid, tallies
// per-field mismatches against the indexed record (Direction C), handles
// --upload-fid and the --delete-enoent/--delete-deleted gates, then counts
// every indexed fid the dump never mentioned (Direction D) and uploads it
// when opts.UploadFid is "*".
func (e *Engine) directionsCD(fsid uint16, indexed map[uint64]fmd.Record, opts Options, summary *Summary) error {
	rc, err := e.Catalog.Dump(fsid)
	if err != nil {
		return fmt.Errorf("fsck: catalog dump: %w", err)
	}

	defer rc.Close()

	seen := make(map[uint64]bool)

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		central, err := envcodec.EnvToFmd(line)
		if err != nil {
			e.logf("fsck: catalog dump: bad record: %v", err)
			continue
		}

		seen[central.FID] = true

		local, ok := indexed[central.FID]
		if !ok {
			continue
		}

		tallyFieldMismatches(local, central, summary)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("fsck: catalog dump: read: %w", err)
	}

	if opts.UploadFid != "" {
		e.handleUploadFid(indexed, opts, summary)
	}

	for fid, rec := range indexed {
		if seen[fid] {
			continue
		}

		summary.MissingInCatalog++
		e.logf("fsck: fid=%#x fsid=%d missing-in-catalog", fid, fsid)

		if opts.UploadFid != "*" {
			continue
		}

		if err := e.Catalog.Commit(rec); err != nil {
			summary.raise(ExitUploadOrDropFailed)
			e.logf("fsck: fid=%#x upload-missing failed: %v", fid, err)

			continue
		}

		summary.Uploads++
	}

	return nil
}

func (e *Engine) handleUploadFid(indexed map[uint64]fmd.Record, opts Options, summary *Summary) {
	targets := map[uint64]fmd.Record{}

	if opts.UploadFid == "*" {
		targets = indexed
	} else {
		fid, err := parseFIDHex(opts.UploadFid)
		if err != nil {
			e.logf("fsck: bad --upload-fid value %q: %v", opts.UploadFid, err)
			return
		}

		if rec, ok := indexed[fid]; ok {
			targets[fid] = rec
		}
	}

	for fid, rec := range targets {
		result, err := e.Catalog.Lookup(fid)
		if err != nil {
			e.logf("fsck: fid=%#x catalog lookup failed: %v", fid, err)
			continue
		}

		switch result.Status {
		case catalog.LookupNoSuchFile:
			if opts.DeleteEnoent {
				if err := e.Handler.DeleteFmd(fid, uint16(rec.FSID)); err != nil {
					e.logf("fsck: fid=%#x delete-enoent failed: %v", fid, err)
				}
			}
		case catalog.LookupAlreadyUnlinked:
			if opts.DeleteDeleted {
				if err := e.Handler.DeleteFmd(fid, uint16(rec.FSID)); err != nil {
					e.logf("fsck: fid=%#x delete-deleted failed: %v", fid, err)
					continue
				}

				if err := e.Catalog.DropReplica(fid, uint16(rec.FSID)); err != nil {
					summary.raise(ExitUploadOrDropFailed)
					e.logf("fsck: fid=%#x drop-replica failed: %v", fid, err)

					continue
				}

				summary.Drops++
			}
		case catalog.LookupFound:
			if err := e.Catalog.Commit(rec); err != nil {
				summary.raise(ExitUploadOrDropFailed)
				e.logf("fsck: fid=%#x upload-fid commit failed: %v", fid, err)

				continue
			}

			summary.Uploads++
		}
	}
}

func tallyFieldMismatches(local, central fmd.Record, summary *Summary) {
	check := func(field string, mismatch bool) {
		if mismatch {
			summary.CatalogFieldMismatch[field]++
		}
	}

	check("layout", local.LayoutID != central.LayoutID)
	check("uid", local.UID != central.UID)
	check("gid", local.GID != central.GID)
	check("cid", local.CID != central.CID)
	check("ctime", local.Ctime != central.Ctime)
	check("ctime_ns", local.CtimeNS != central.CtimeNS)
	check("mtime", local.Mtime != central.Mtime)
	check("mtime_ns", local.MtimeNS != central.MtimeNS)
	check("checksum", local.Checksum != central.Checksum)
	check("name", local.Name != central.Name)
	check("container", local.Container != central.Container)
	check("size", local.Size != central.Size)
}

// walkLocalReplicas finds every file under dir, at any depth, whose leaf
// name is 16 hex digits, and maps the fid it encodes to its path. The name
// of the directory holding it is not checked against the bucket scheme.
func (e *Engine) walkLocalReplicas(dir string) (map[uint64]string, error) {
	found := make(map[uint64]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if len(name) != 16 {
			return nil
		}

		raw, err := hex.DecodeString(name)
		if err != nil || len(raw) != 8 {
			return nil
		}

		fid := beUint64(raw)
		found[fid] = path

		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}

	return v
}

func parseFIDHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger == nil {
		return
	}

	e.Logger.Info(fmt.Sprintf(format, args...))
}
