// Package catalog defines the narrow interface the fsck engine uses to
// reconcile a changelog against the central namespace service, plus an
// in-memory fake for tests. A real network client is out of scope
// (SPEC_FULL.md §1) - production wiring is left to the caller.
package catalog

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fmd/envcodec"
)

// LookupStatus classifies the central catalog's answer to a Lookup call.
type LookupStatus int

const (
	// LookupFound means the catalog holds a record for this fid.
	LookupFound LookupStatus = iota
	// LookupNoSuchFile means the catalog has never heard of this fid.
	LookupNoSuchFile
	// LookupAlreadyUnlinked means the catalog knows the fid but has
	// already dropped this replica.
	LookupAlreadyUnlinked
)

// LookupResult is the answer to Client.Lookup.
type LookupResult struct {
	Status LookupStatus
	Record fmd.Record
}

// Client is everything the fsck engine needs from the central namespace
// service for Directions C and D.
type Client interface {
	// Dump returns a stream of one record per line in the envcodec text
	// form (SPEC_FULL.md §6), scoped to fsid.
	Dump(fsid uint16) (io.ReadCloser, error)

	// Commit uploads record to the catalog, creating or overwriting its
	// entry.
	Commit(record fmd.Record) error

	// DropReplica tells the catalog that fsid no longer holds a replica
	// of fid.
	DropReplica(fid uint64, fsid uint16) error

	// Lookup fetches the catalog's current record for fid, if any.
	Lookup(fid uint64) (LookupResult, error)
}

// Fake is an in-memory [Client] for tests. It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	records map[uint64]fmd.Record
	dropped map[uint64]bool
}

// NewFake returns an empty in-memory catalog fake.
func NewFake() *Fake {
	return &Fake{
		records: make(map[uint64]fmd.Record),
		dropped: make(map[uint64]bool),
	}
}

// Seed preloads record as if it had previously been committed. For test
// setup only.
func (f *Fake) Seed(record fmd.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[record.FID] = record
}

func (f *Fake) Dump(fsid uint16) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var fids []uint64

	for fid, r := range f.records {
		if r.FSID == uint32(fsid) {
			fids = append(fids, fid)
		}
	}

	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	var sb strings.Builder

	for _, fid := range fids {
		sb.WriteString(envcodec.FmdToEnv(f.records[fid]))
		sb.WriteByte('\n')
	}

	return io.NopCloser(strings.NewReader(sb.String())), nil
}

func (f *Fake) Commit(record fmd.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[record.FID] = record
	delete(f.dropped, record.FID)

	return nil
}

func (f *Fake) DropReplica(fid uint64, fsid uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[fid]; !ok {
		return fmt.Errorf("catalog: drop replica: fid %#x unknown", fid)
	}

	delete(f.records, fid)

	f.dropped[fid] = true

	return nil
}

func (f *Fake) Lookup(fid uint64) (LookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.records[fid]; ok {
		return LookupResult{Status: LookupFound, Record: r}, nil
	}

	if f.dropped[fid] {
		return LookupResult{Status: LookupAlreadyUnlinked}, nil
	}

	return LookupResult{Status: LookupNoSuchFile}, nil
}
