package fmd

import "encoding/binary"

const (
	logMagic      = "FMD1"
	logVersion    = "1.0.0000"
	logHeaderSize = 32
)

// Byte offsets within the 32-byte log file header.
const (
	hdrOffMagic   = 0  // [4]byte
	hdrOffVersion = 4  // [8]byte, NUL-padded
	hdrOffCtime   = 12 // int64 unix seconds
	hdrOffFSID    = 20 // uint16
	// bytes 22..31 reserved, zero.
)

// logHeader is the fixed 32-byte header written once at the start of every
// changelog file.
type logHeader struct {
	Version string
	Ctime   int64
	FSID    uint16
}

func newLogHeader(fsid uint16, ctime int64) logHeader {
	return logHeader{Version: logVersion, Ctime: ctime, FSID: fsid}
}

func encodeLogHeader(h logHeader) []byte {
	buf := make([]byte, logHeaderSize)

	copy(buf[hdrOffMagic:], logMagic)
	putFixedString(buf[hdrOffVersion:hdrOffVersion+8], h.Version)
	binary.LittleEndian.PutUint64(buf[hdrOffCtime:], uint64(h.Ctime))
	binary.LittleEndian.PutUint16(buf[hdrOffFSID:], h.FSID)

	return buf
}

// decodeLogHeader parses buf into a logHeader and reports whether the
// magic and version matched what this build writes.
func decodeLogHeader(buf []byte) (h logHeader, magicOK, versionOK bool) {
	if len(buf) != logHeaderSize {
		return logHeader{}, false, false
	}

	magicOK = string(buf[hdrOffMagic:hdrOffMagic+4]) == logMagic
	h.Version = getFixedString(buf[hdrOffVersion : hdrOffVersion+8])
	versionOK = h.Version == logVersion
	h.Ctime = int64(binary.LittleEndian.Uint64(buf[hdrOffCtime:]))
	h.FSID = binary.LittleEndian.Uint16(buf[hdrOffFSID:])

	return h, magicOK, versionOK
}
