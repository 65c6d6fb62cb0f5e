// Package checksum defines the narrow interface the fsck engine uses to
// recompute a file's digest during the checksum pass, plus a CRC32C-based
// stand-in. The real per-layout checksum algorithms are out of scope
// (SPEC_FULL.md §1); this package exists so the fsck engine has something
// concrete to call in tests and in deployments that are happy with the
// core's own hash choice.
package checksum

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
)

// Plugin computes a file's digest for the layout identified by layoutID.
// The returned slice is the raw digest bytes; the caller copies them to the
// start of a [fmd.Record]'s fixed checksum field, zero-filling the rest or
// truncating a longer digest.
type Plugin interface {
	Compute(path string, layoutID uint32) ([]byte, error)
}

// CRC32C computes a CRC-32C (Castagnoli) digest of the file contents,
// matching the core's own integrity algorithm rather than inventing a
// second one.
type CRC32C struct{}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Compute ignores layoutID: this plugin always uses CRC-32C.
func (CRC32C) Compute(path string, _ uint32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	h := crc32.New(crcTable)

	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	digest := make([]byte, 4)
	binary.LittleEndian.PutUint32(digest, h.Sum32())

	return digest, nil
}
