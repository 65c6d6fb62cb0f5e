package catalog_test

import (
	"bufio"
	"testing"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fmd/catalog"
	"github.com/stormvault/fmdlog/pkg/fmd/envcodec"
)

func Test_Fake_Commit_Then_Lookup_ReturnsFound(t *testing.T) {
	t.Parallel()

	f := catalog.NewFake()
	rec := fmd.Record{FID: 1, FSID: 7, Size: 100}

	if err := f.Commit(rec); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	result, err := f.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if result.Status != catalog.LookupFound || result.Record.Size != 100 {
		t.Fatalf("Lookup = %+v, want Found with Size=100", result)
	}
}

func Test_Fake_Lookup_OnUnknownFid_ReturnsNoSuchFile(t *testing.T) {
	t.Parallel()

	f := catalog.NewFake()

	result, err := f.Lookup(999)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if result.Status != catalog.LookupNoSuchFile {
		t.Fatalf("Status = %v, want LookupNoSuchFile", result.Status)
	}
}

func Test_Fake_DropReplica_MakesSubsequentLookupReportAlreadyUnlinked(t *testing.T) {
	t.Parallel()

	f := catalog.NewFake()
	rec := fmd.Record{FID: 1, FSID: 7}

	if err := f.Commit(rec); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := f.DropReplica(1, 7); err != nil {
		t.Fatalf("DropReplica: %v", err)
	}

	result, err := f.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if result.Status != catalog.LookupAlreadyUnlinked {
		t.Fatalf("Status = %v, want LookupAlreadyUnlinked", result.Status)
	}
}

func Test_Fake_Dump_OnlyIncludesMatchingFilesystem_AndParsesBackCleanly(t *testing.T) {
	t.Parallel()

	f := catalog.NewFake()

	if err := f.Commit(fmd.Record{FID: 1, FSID: 7, Size: 10}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := f.Commit(fmd.Record{FID: 2, FSID: 8, Size: 20}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rc, err := f.Dump(7)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	defer rc.Close()

	var fids []uint64

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		rec, err := envcodec.EnvToFmd(scanner.Text())
		if err != nil {
			t.Fatalf("EnvToFmd: %v", err)
		}

		fids = append(fids, rec.FID)
	}

	if len(fids) != 1 || fids[0] != 1 {
		t.Fatalf("Dump(7) yielded fids %v, want [1]", fids)
	}
}
