package fmd

import "testing"

func Test_Index_Set_Then_Get_ReturnsStoredOffset(t *testing.T) {
	t.Parallel()

	ix := newIndex()
	ix.set(1, 100, 256, 4096)

	offset, ok := ix.get(1, 100)
	if !ok || offset != 256 {
		t.Fatalf("get() = (%d, %v), want (256, true)", offset, ok)
	}

	size, ok := ix.sizeOf(1, 100)
	if !ok || size != 4096 {
		t.Fatalf("sizeOf() = (%d, %v), want (4096, true)", size, ok)
	}
}

func Test_Index_Delete_RemovesOffsetAndSize(t *testing.T) {
	t.Parallel()

	ix := newIndex()
	ix.set(1, 100, 256, 4096)
	ix.delete(1, 100)

	if _, ok := ix.get(1, 100); ok {
		t.Fatal("get() found entry after delete")
	}

	if _, ok := ix.sizeOf(1, 100); ok {
		t.Fatal("sizeOf() found entry after delete")
	}
}

func Test_Index_DeleteFS_OnlyRemovesMatchingFilesystem(t *testing.T) {
	t.Parallel()

	ix := newIndex()
	ix.set(1, 100, 0, 10)
	ix.set(2, 100, 0, 10)

	ix.deleteFS(1)

	if _, ok := ix.get(1, 100); ok {
		t.Fatal("fsid 1 entry survived deleteFS(1)")
	}

	if _, ok := ix.get(2, 100); !ok {
		t.Fatal("fsid 2 entry was wrongly removed by deleteFS(1)")
	}
}

func Test_Index_CountFS_CountsOnlyThatFilesystem(t *testing.T) {
	t.Parallel()

	ix := newIndex()
	ix.set(1, 1, 0, 0)
	ix.set(1, 2, 0, 0)
	ix.set(2, 3, 0, 0)

	if n := ix.countFS(1); n != 2 {
		t.Fatalf("countFS(1) = %d, want 2", n)
	}

	if n := ix.countFS(2); n != 1 {
		t.Fatalf("countFS(2) = %d, want 1", n)
	}
}

func Test_Index_ForEachFS_VisitsOnlyMatchingEntries(t *testing.T) {
	t.Parallel()

	ix := newIndex()
	ix.set(1, 1, 10, 0)
	ix.set(1, 2, 20, 0)
	ix.set(2, 3, 30, 0)

	seen := map[uint64]int64{}

	ix.forEachFS(1, func(fid uint64, offset int64) {
		seen[fid] = offset
	})

	if len(seen) != 2 || seen[1] != 10 || seen[2] != 20 {
		t.Fatalf("forEachFS(1) visited %v, want {1:10, 2:20}", seen)
	}
}
