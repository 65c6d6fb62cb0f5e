package fmd_test

import (
	"path/filepath"
	"testing"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fs"
)

func Test_Trim_PreservesLiveRecords_AndDropsTombstonesAndOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := int64(1_700_000_000)

	h, err := fmd.New(fmd.Config{MetaLogDir: dir}, fs.NewReal(), func() int64 { return clock })
	if err != nil {
		t.Fatalf("fmd.New: %v", err)
	}

	if err := h.AttachLatestChangeLogFile(dir, 1); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// fid 1: created, overwritten once (one superseded record should be dropped by trim).
	r1, _, err := h.GetFmd(1, 1, 10, 10, 0, true)
	if err != nil {
		t.Fatalf("GetFmd(1): %v", err)
	}

	r1.Size = 100

	if _, err := h.Commit(r1); err != nil {
		t.Fatalf("Commit(1): %v", err)
	}

	// fid 2: created, then deleted (tombstone should be dropped entirely by trim).
	if _, _, err := h.GetFmd(2, 1, 10, 10, 0, true); err != nil {
		t.Fatalf("GetFmd(2): %v", err)
	}

	if err := h.DeleteFmd(2, 1); err != nil {
		t.Fatalf("DeleteFmd(2): %v", err)
	}

	// fid 3: created once, stays live untouched.
	r3, _, err := h.GetFmd(3, 1, 20, 20, 0, true)
	if err != nil {
		t.Fatalf("GetFmd(3): %v", err)
	}

	beforeUserBytes, _, beforeUserFiles, _ := h.Quota(1, 10, 10)

	newPath := filepath.Join(dir, "trimmed.mdlog")

	result, err := h.Trim(1, newPath)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}

	if result.LiveRecords != 2 {
		t.Fatalf("LiveRecords = %d, want 2 (fid 1 and fid 3; fid 2 was deleted)", result.LiveRecords)
	}

	afterUserBytes, _, afterUserFiles, _ := h.Quota(1, 10, 10)
	if afterUserBytes != beforeUserBytes || afterUserFiles != beforeUserFiles {
		t.Fatalf("quota changed across trim: before=(%d,%d) after=(%d,%d)",
			beforeUserBytes, beforeUserFiles, afterUserBytes, afterUserFiles)
	}

	rec1, found, err := h.GetFmd(1, 1, 10, 10, 0, false)
	if err != nil || !found {
		t.Fatalf("GetFmd(1) after trim: found=%v err=%v", found, err)
	}

	if rec1.Size != 100 {
		t.Fatalf("rec1.Size after trim = %d, want 100 (the last committed value)", rec1.Size)
	}

	_, found, err = h.GetFmd(2, 1, 10, 10, 0, false)
	if err != nil {
		t.Fatalf("GetFmd(2) after trim: %v", err)
	}

	if found {
		t.Fatal("fid 2 (deleted before trim) resurfaced after trim")
	}

	rec3, found, err := h.GetFmd(3, 1, 20, 20, 0, false)
	if err != nil || !found {
		t.Fatalf("GetFmd(3) after trim: found=%v err=%v", found, err)
	}

	if rec3.FID != r3.FID {
		t.Fatalf("rec3.FID = %#x, want %#x", rec3.FID, r3.FID)
	}
}

func Test_Trim_OnUnattachedFilesystem_ReturnsErrNotAttached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	h, err := fmd.New(fmd.Config{MetaLogDir: dir}, fs.NewReal(), func() int64 { return 0 })
	if err != nil {
		t.Fatalf("fmd.New: %v", err)
	}

	_, err = h.Trim(99, filepath.Join(dir, "x.mdlog"))
	if err == nil {
		t.Fatal("Trim on unattached fsid returned nil error")
	}
}
