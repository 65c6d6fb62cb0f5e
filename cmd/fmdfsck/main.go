// fmdfsck is the offline reconciliation tool: given a changelog file and
// optionally a local data directory and/or a central-catalog endpoint, it
// cross-checks the log against disk and against the namespace catalog and
// optionally repairs what it finds (SPEC_FULL.md §6).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fmd/catalog"
	"github.com/stormvault/fmdlog/pkg/fmd/checksum"
	"github.com/stormvault/fmdlog/pkg/fmd/fsck"
	"github.com/stormvault/fmdlog/pkg/fs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fset := flag.NewFlagSet("fmdfsck", flag.ContinueOnError)

	force := fset.BoolP("force", "f", false, "accepted for compatibility; has no effect (a header version mismatch always fails the attach)")
	dump := fset.Bool("dump", false, "print records")
	trim := fset.Bool("trim", false, "compact the changelog")
	inplace := fset.Bool("inplace", false, "replace the original changelog with the trimmed copy")
	dataDir := fset.String("data", "", "enable local-disk cross-check against this directory")
	deleteMissingChangelog := fset.Bool("delete-missing-changelog", false, "unlink disk orphans not present in the changelog (interactive confirm)")
	show := fset.Bool("show", false, "verbose findings")
	mgmURL := fset.String("mgm", "", "enable catalog cross-check against this endpoint")
	repairLocal := fset.Bool("repair-local", false, "fix a mismatched size in the changelog")
	repairCache := fset.Bool("repair-cache", false, "push checksum repairs to the catalog")
	doChecksum := fset.Bool("checksum", false, "recompute checksums on mismatch")
	uploadFid := fset.String("upload-fid", "", "force commit of a fid (hex) or all missing (*) to the catalog")
	deleteEnoent := fset.Bool("delete-enoent", false, "with --upload-fid: delete the changelog record when the catalog reports no such file")
	deleteDeleted := fset.Bool("delete-deleted", false, "with --upload-fid: delete the changelog record and drop the replica from the catalog when the catalog reports already-unlinked")
	quiet := fset.Bool("quiet", false, "suppress info-level output")
	serviceUID := fset.Uint32("service-uid", 0, "required owner uid of the changelog file (daemon-account guard)")

	if err := fset.Parse(args); err != nil {
		return int(fsck.ExitCheckFailed)
	}

	if fset.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fmdfsck [flags] <changelog-file>")
		return int(fsck.ExitCheckFailed)
	}

	logPath := fset.Arg(0)

	level := slog.LevelInfo
	if *quiet {
		level = slog.LevelWarn
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fsys := fs.NewReal()

	if code := checkDaemonAccount(fsys, logPath, *serviceUID); code != fsck.ExitClean {
		return int(code)
	}

	fsid, err := fmd.ParseFSIDFromLogName(logPath)
	if err != nil {
		logger.Error("fsck: cannot determine filesystem id", "err", err)
		return int(fsck.ExitCheckFailed)
	}

	cfg := fmd.Config{MetaLogDir: filepath.Dir(logPath), Logger: logger}

	h, err := fmd.New(cfg, fsys, nil)
	if err != nil {
		logger.Error("fsck: config invalid", "err", err)
		return int(fsck.ExitCheckFailed)
	}

	dir, base := filepath.Split(logPath)
	if err := h.SetChangeLogFile(dir, base, fsid); err != nil {
		logger.Error("fsck: attach failed", "err", err)
		return int(fsck.ExitCheckFailed)
	}

	var cat catalog.Client

	if *mgmURL != "" {
		logger.Warn("fsck: --mgm points at a real endpoint but production catalog wiring is out of scope; " +
			"pass a pre-seeded catalog.Client via Engine.Catalog in code that embeds this tool")
	}

	engine := &fsck.Engine{
		Handler:  h,
		FS:       fsys,
		Catalog:  cat,
		Checksum: checksum.CRC32C{},
		Logger:   logger,
	}

	opts := fsck.Options{
		Force:                  *force,
		Dump:                   *dump,
		Trim:                   *trim,
		Inplace:                *inplace,
		DataDir:                *dataDir,
		DeleteMissingChangelog: *deleteMissingChangelog,
		Show:                   *show,
		RepairLocal:            *repairLocal,
		RepairCache:            *repairCache,
		Checksum:               *doChecksum,
		UploadFid:              *uploadFid,
		DeleteEnoent:           *deleteEnoent,
		DeleteDeleted:          *deleteDeleted,
		Quiet:                  *quiet,
		Confirm:                linerConfirm,
	}

	summary, err := engine.Run(fsid, opts)
	if err != nil {
		logger.Error("fsck: run failed", "err", err)
		return int(fsck.ExitCheckFailed)
	}

	if *trim {
		trimPath := logPath + ".trim"

		result, err := h.Trim(fsid, trimPath)
		if err != nil {
			logger.Error("fsck: trim failed", "err", err)
			return int(fsck.ExitTrimFailed)
		}

		logger.Info("fsck: trim complete", "live_records", result.LiveRecords, "bytes_after", result.BytesAfter)

		if *inplace {
			if err := atomicReplace(trimPath, logPath); err != nil {
				logger.Error("fsck: rename trimmed log into place failed", "err", err)
				return int(fsck.ExitRenameFailed)
			}
		}
	}

	printSummary(summary)

	return int(summary.Worst)
}

// checkDaemonAccount refuses to run unless path is owned by wantUID,
// guarding against an operator accidentally pointing the tool at a
// changelog it has no business touching (SPEC_FULL.md §6). A zero wantUID
// disables the guard, since most interactive uses run as the file's owner
// already.
func checkDaemonAccount(fsys fs.FS, path string, wantUID uint32) fsck.ExitCode {
	if wantUID == 0 {
		return fsck.ExitClean
	}

	owner, err := fmd.FileOwnerUID(fsys, path)
	if err != nil || owner != wantUID {
		return fsck.ExitDataDirError
	}

	return fsck.ExitClean
}

func linerConfirm(prompt string) bool {
	line := liner.NewLiner()
	defer line.Close()

	answer, err := line.Prompt(prompt + " (yes/no): ")
	if err != nil {
		return false
	}

	return answer == "yes" || answer == "y"
}

// atomicReplace installs the freshly trimmed log at dst via a temp-file-plus-
// rename so a crash mid-install never leaves dst truncated or missing.
func atomicReplace(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}

	defer f.Close()

	if err := atomic.WriteFile(dst, f); err != nil {
		return err
	}

	return os.Remove(src)
}

func printSummary(s *fsck.Summary) {
	fmt.Printf("fsck summary: missing_in_changelog=%d missing_on_disk=%d size_mismatch=%d "+
		"ctime_mismatch=%d mtime_mismatch=%d checksum_mismatch=%d missing_in_catalog=%d "+
		"orphans_deleted=%d local_repairs=%d checksum_repairs=%d uploads=%d drops=%d exit=%d\n",
		s.MissingInChangelog, s.MissingOnDisk, s.SizeMismatch, s.CtimeMismatch, s.MtimeMismatch,
		s.ChecksumMismatch, s.MissingInCatalog, s.OrphansDeleted, s.LocalRepairs, s.ChecksumRepairs,
		s.Uploads, s.Drops, s.Worst)

	for field, count := range s.CatalogFieldMismatch {
		fmt.Printf("  catalog field mismatch: %s=%d\n", field, count)
	}
}
