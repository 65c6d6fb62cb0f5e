package fmd

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic discriminates a record's kind. The wire values intentionally avoid
// zero so an all-zero block (a hole left by a short write) never decodes as
// a valid record.
const (
	magicCreate uint64 = 0xffffffffffffffff
	magicDelete uint64 = 0xdddddddddddddddd
)

// Field sizes, in bytes.
const (
	checksumSize = 20
	nameSize     = 256
	containerSz  = 256

	// recordSize is the fixed, packed, little-endian on-disk size of one
	// FMD record.
	recordSize = 8 + // magic
		4 + // sequenceHeader
		8 + // fid
		8 + // cid
		4 + // fsid
		4 + 4 + // ctime, ctimeNS
		4 + 4 + // mtime, mtimeNS
		8 + // size
		checksumSize +
		4 + // layoutID
		4 + 4 + // uid, gid
		nameSize +
		containerSz +
		4 + // crc32
		4 // sequenceTrailer
)

// Byte offsets of each field within an encoded record.
const (
	offMagic           = 0
	offSeqHeader       = offMagic + 8
	offFID             = offSeqHeader + 4
	offCID             = offFID + 8
	offFSID            = offCID + 8
	offCtime           = offFSID + 4
	offCtimeNS         = offCtime + 4
	offMtime           = offCtimeNS + 4
	offMtimeNS         = offMtime + 4
	offSize            = offMtimeNS + 4
	offChecksum        = offSize + 8
	offLayoutID        = offChecksum + checksumSize
	offUID             = offLayoutID + 4
	offGID             = offUID + 4
	offName            = offGID + 4
	offContainer       = offName + nameSize
	offCRC32           = offContainer + containerSz
	offSeqTrailer      = offCRC32 + 4
	crcSpanStart       = offFID
	crcSpanEnd         = offCRC32 // exclusive; covers fid..container (the whole body, not the header)
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Kind is the discriminator of a [Record]: created/updated, or deleted.
type Kind uint8

const (
	KindCreate Kind = iota
	KindDelete
)

// Record is one decoded FMD entry: a file's metadata at the instant this
// entry was appended to the changelog.
//
// Record is a value type. Copies do not alias the log file or the index;
// mutating a Record obtained from [Handler.GetFmd] has no effect until it
// is passed back through [Handler.Commit].
type Record struct {
	Kind            Kind
	SequenceHeader  uint32
	FID             uint64
	CID             uint64
	FSID            uint32
	Ctime, CtimeNS  uint32
	Mtime, MtimeNS  uint32
	Size            uint64
	Checksum        [checksumSize]byte
	LayoutID        uint32
	UID, GID        uint32
	Name, Container string
	CRC32           uint32
	SequenceTrailer uint32
}

// IsCreate reports whether r is a live (CREATE) record.
func (r Record) IsCreate() bool { return r.Kind == KindCreate }

// IsDelete reports whether r is a tombstone (DELETE) record.
func (r Record) IsDelete() bool { return r.Kind == KindDelete }

func magicFor(k Kind) uint64 {
	if k == KindDelete {
		return magicDelete
	}

	return magicCreate
}

func kindFromMagic(m uint64) (Kind, bool) {
	switch m {
	case magicCreate:
		return KindCreate, true
	case magicDelete:
		return KindDelete, true
	default:
		return 0, false
	}
}

// MagicFor returns the wire magic tag for k, exported for callers outside
// this package that serialize a Record over a text channel (see envcodec).
func MagicFor(k Kind) uint64 { return magicFor(k) }

// KindFromMagic is the inverse of [MagicFor].
func KindFromMagic(m uint64) (Kind, bool) { return kindFromMagic(m) }

// encodeRecord serializes r into a fixed recordSize little-endian block.
// It stamps CRC32 from the current field values but does NOT assign
// sequence numbers - callers (see [logFile.append]) own sequencing.
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordSize)

	binary.LittleEndian.PutUint64(buf[offMagic:], magicFor(r.Kind))
	binary.LittleEndian.PutUint32(buf[offSeqHeader:], r.SequenceHeader)
	binary.LittleEndian.PutUint64(buf[offFID:], r.FID)
	binary.LittleEndian.PutUint64(buf[offCID:], r.CID)
	binary.LittleEndian.PutUint32(buf[offFSID:], r.FSID)
	binary.LittleEndian.PutUint32(buf[offCtime:], r.Ctime)
	binary.LittleEndian.PutUint32(buf[offCtimeNS:], r.CtimeNS)
	binary.LittleEndian.PutUint32(buf[offMtime:], r.Mtime)
	binary.LittleEndian.PutUint32(buf[offMtimeNS:], r.MtimeNS)
	binary.LittleEndian.PutUint64(buf[offSize:], r.Size)
	copy(buf[offChecksum:offChecksum+checksumSize], r.Checksum[:])
	binary.LittleEndian.PutUint32(buf[offLayoutID:], r.LayoutID)
	binary.LittleEndian.PutUint32(buf[offUID:], r.UID)
	binary.LittleEndian.PutUint32(buf[offGID:], r.GID)
	putFixedString(buf[offName:offName+nameSize], r.Name)
	putFixedString(buf[offContainer:offContainer+containerSz], r.Container)

	crc := crc32.Checksum(buf[crcSpanStart:crcSpanEnd], crcTable)
	binary.LittleEndian.PutUint32(buf[offCRC32:], crc)
	binary.LittleEndian.PutUint32(buf[offSeqTrailer:], r.SequenceTrailer)

	return buf
}

// decodeRecord deserializes a recordSize block into a Record without
// validating it; callers must run [validateRecord] before trusting the
// result.
func decodeRecord(buf []byte) (Record, bool) {
	if len(buf) != recordSize {
		return Record{}, false
	}

	kind, ok := kindFromMagic(binary.LittleEndian.Uint64(buf[offMagic:]))

	var r Record

	r.Kind = kind
	r.SequenceHeader = binary.LittleEndian.Uint32(buf[offSeqHeader:])
	r.FID = binary.LittleEndian.Uint64(buf[offFID:])
	r.CID = binary.LittleEndian.Uint64(buf[offCID:])
	r.FSID = binary.LittleEndian.Uint32(buf[offFSID:])
	r.Ctime = binary.LittleEndian.Uint32(buf[offCtime:])
	r.CtimeNS = binary.LittleEndian.Uint32(buf[offCtimeNS:])
	r.Mtime = binary.LittleEndian.Uint32(buf[offMtime:])
	r.MtimeNS = binary.LittleEndian.Uint32(buf[offMtimeNS:])
	r.Size = binary.LittleEndian.Uint64(buf[offSize:])
	copy(r.Checksum[:], buf[offChecksum:offChecksum+checksumSize])
	r.LayoutID = binary.LittleEndian.Uint32(buf[offLayoutID:])
	r.UID = binary.LittleEndian.Uint32(buf[offUID:])
	r.GID = binary.LittleEndian.Uint32(buf[offGID:])
	r.Name = getFixedString(buf[offName : offName+nameSize])
	r.Container = getFixedString(buf[offContainer : offContainer+containerSz])
	r.CRC32 = binary.LittleEndian.Uint32(buf[offCRC32:])
	r.SequenceTrailer = binary.LittleEndian.Uint32(buf[offSeqTrailer:])

	return r, ok
}

// validateRecord checks invariants 1-4 (valid magic, CRC match, matched
// header/trailer sequence, strictly increasing sequence) and, on success,
// advances *expectedSeq to r's sequence number so the caller can chain
// calls down the log. Pass *expectedSeq == 0 for the first call on a log;
// sequence numbers are assigned starting at 1, so this naturally accepts
// the first record.
func validateRecord(buf []byte, r Record, expectedSeq *uint32) error {
	if _, ok := kindFromMagic(binary.LittleEndian.Uint64(buf[offMagic:])); !ok {
		return ErrCorruptMagic
	}

	if r.SequenceHeader != r.SequenceTrailer {
		return ErrCorruptTorn
	}

	if r.SequenceHeader <= *expectedSeq {
		return ErrCorruptSeqOrder
	}

	wantCRC := crc32.Checksum(buf[crcSpanStart:crcSpanEnd], crcTable)
	if wantCRC != r.CRC32 {
		return ErrCorruptCRC
	}

	*expectedSeq = r.SequenceHeader

	return nil
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)

	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}

	return string(src[:n])
}
