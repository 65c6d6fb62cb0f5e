package fmd_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fs"
)

func newTestHandler(t *testing.T) (*fmd.Handler, string) {
	t.Helper()

	dir := t.TempDir()

	clock := int64(1_700_000_000)

	h, err := fmd.New(fmd.Config{MetaLogDir: dir}, fs.NewReal(), func() int64 { return clock })
	require.NoError(t, err)

	return h, dir
}

func Test_GetFmd_WriteMode_OnAbsentFid_CreatesRecord(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	rec, found, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, true)
	if err != nil {
		t.Fatalf("GetFmd: %v", err)
	}

	if !found {
		t.Fatal("GetFmd writeMode=true on absent fid returned found=false")
	}

	if rec.Size != 0 || rec.FID != 0x100 || rec.FSID != 7 {
		t.Fatalf("unexpected new record: %+v", rec)
	}
}

func Test_GetFmd_WriteMode_OnExisting_DoesNotWrite(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	first, _, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, true)
	if err != nil {
		t.Fatalf("GetFmd (create): %v", err)
	}

	before := h.Stats()

	second, found, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, true)
	if err != nil {
		t.Fatalf("GetFmd (existing): %v", err)
	}

	after := h.Stats()

	if !found {
		t.Fatal("GetFmd on existing fid returned found=false")
	}

	if second.FID != first.FID || second.Size != first.Size {
		t.Fatalf("GetFmd on existing fid returned a different record: got %+v, want %+v", second, first)
	}

	if after.Commits != before.Commits {
		t.Fatalf("GetFmd on existing fid incremented Commits: before=%d after=%d", before.Commits, after.Commits)
	}

	if second.SequenceHeader != first.SequenceHeader {
		t.Fatalf("GetFmd on existing fid appended a record: sequence %d, want %d", second.SequenceHeader, first.SequenceHeader)
	}
}

func Test_GetFmd_WriteModeFalse_OnAbsentFid_ReturnsNotFound(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	_, found, err := h.GetFmd(0x999, 7, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("GetFmd: %v", err)
	}

	if found {
		t.Fatal("GetFmd writeMode=false on absent fid returned found=true")
	}
}

func Test_EndToEnd_CreateCommitDelete_Scenario(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	created, _, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, true)
	if err != nil {
		t.Fatalf("GetFmd create: %v", err)
	}

	created.Size = 4096

	if _, err := h.Commit(created); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rec, found, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, false)
	if err != nil || !found {
		t.Fatalf("GetFmd after commit: found=%v err=%v", found, err)
	}

	if rec.Size != 4096 {
		t.Fatalf("rec.Size = %d, want 4096", rec.Size)
	}

	userBytes, _, userFiles, _ := h.Quota(7, 1000, 1000)
	if userBytes != 4096 || userFiles != 1 {
		t.Fatalf("quota after commit = (bytes=%d, files=%d), want (4096, 1)", userBytes, userFiles)
	}

	if err := h.DeleteFmd(0x100, 7); err != nil {
		t.Fatalf("DeleteFmd: %v", err)
	}

	_, found, err = h.GetFmd(0x100, 7, 1000, 1000, 0x41, false)
	if err != nil {
		t.Fatalf("GetFmd after delete: %v", err)
	}

	if found {
		t.Fatal("GetFmd found a record after DeleteFmd")
	}

	userBytes, _, userFiles, _ = h.Quota(7, 1000, 1000)
	if userBytes != 0 || userFiles != 0 {
		t.Fatalf("quota after delete = (bytes=%d, files=%d), want (0, 0)", userBytes, userFiles)
	}
}

func Test_DeleteFmd_OnMissingFid_IsIdempotentSuccess(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	if err := h.DeleteFmd(0xdead, 7); err != nil {
		t.Fatalf("DeleteFmd on missing fid returned error: %v", err)
	}
}

func Test_GetFmd_OnUnattachedFilesystem_ReturnsErrNotAttached(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	_, _, err := h.GetFmd(1, 99, 0, 0, 0, false)
	if !errors.Is(err, fmd.ErrNotAttached) {
		t.Fatalf("GetFmd on unattached fsid: got %v, want ErrNotAttached", err)
	}
}

func Test_SetChangeLogFile_Reattach_RebuildsIndexFromDisk(t *testing.T) {
	t.Parallel()

	h, dir := newTestHandler(t)

	require.NoError(t, h.AttachLatestChangeLogFile(dir, 7))

	created, _, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, true)
	if err != nil {
		t.Fatalf("GetFmd: %v", err)
	}

	created.Size = 1024

	if _, err := h.Commit(created); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	h.Reset()

	if err := h.AttachLatestChangeLogFile(dir, 7); err != nil {
		t.Fatalf("reattach: %v", err)
	}

	rec, found, err := h.GetFmd(0x100, 7, 1000, 1000, 0x41, false)
	if err != nil || !found {
		t.Fatalf("GetFmd after reattach: found=%v err=%v", found, err)
	}

	if rec.Size != 1024 {
		t.Fatalf("rec.Size after reattach = %d, want 1024", rec.Size)
	}

	userBytes, _, userFiles, _ := h.Quota(7, 1000, 1000)
	if userBytes != 1024 || userFiles != 1 {
		t.Fatalf("quota after reattach = (bytes=%d, files=%d), want (1024, 1)", userBytes, userFiles)
	}
}

func Test_AttachLatestChangeLogFile_PicksMostRecentlyModified(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	h1, err := fmd.New(fmd.Config{MetaLogDir: dir}, fs.NewReal(), func() int64 { return 1000 })
	if err != nil {
		t.Fatalf("fmd.New: %v", err)
	}

	if err := h1.SetChangeLogFile(dir, fmd.ChangeLogName(7, 1000), 7); err != nil {
		t.Fatalf("SetChangeLogFile (older): %v", err)
	}

	h2, err := fmd.New(fmd.Config{MetaLogDir: dir}, fs.NewReal(), func() int64 { return 2000 })
	if err != nil {
		t.Fatalf("fmd.New: %v", err)
	}

	if err := h2.SetChangeLogFile(dir, fmd.ChangeLogName(7, 2000), 7); err != nil {
		t.Fatalf("SetChangeLogFile (newer): %v", err)
	}

	// Pin mtimes explicitly so the assertion below does not depend on the
	// filesystem's mtime resolution distinguishing two writes that may
	// land in the same tick.
	older := time.Unix(1000, 0)
	newer := time.Unix(2000, 0)

	if err := os.Chtimes(filepath.Join(dir, fmd.ChangeLogName(7, 1000)), older, older); err != nil {
		t.Fatalf("Chtimes (older): %v", err)
	}

	if err := os.Chtimes(filepath.Join(dir, fmd.ChangeLogName(7, 2000)), newer, newer); err != nil {
		t.Fatalf("Chtimes (newer): %v", err)
	}

	latest, found, err := fmd.FindLatestChangeLog(fs.NewReal(), dir, 7)
	if err != nil || !found {
		t.Fatalf("FindLatestChangeLog: found=%v err=%v", found, err)
	}

	if latest != filepath.Base(fmd.ChangeLogName(7, 2000)) {
		t.Fatalf("FindLatestChangeLog picked %q, want the 2000 log", latest)
	}
}
