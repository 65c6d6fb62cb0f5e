// Package envcodec serializes a [fmd.Record] as a single URL-style
// query string, the text form used to pass a record through channels that
// only carry key-value pairs (SPEC_FULL.md §6's "transport form").
package envcodec

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"github.com/stormvault/fmdlog/pkg/fmd"
)

// Keys, in the order the source lists them. All are required on decode;
// a missing key is a decode failure.
const (
	keyMagic           = "mgm.fmd.magic"
	keySequenceHeader  = "mgm.fmd.sequenceheader"
	keyFID             = "mgm.fmd.fid"
	keyCID             = "mgm.fmd.cid"
	keyFSID            = "mgm.fmd.fsid"
	keyCtime           = "mgm.fmd.ctime"
	keyCtimeNS         = "mgm.fmd.ctime_ns"
	keyMtime           = "mgm.fmd.mtime"
	keyMtimeNS         = "mgm.fmd.mtime_ns"
	keySize            = "mgm.fmd.size"
	keyChecksum64      = "mgm.fmd.checksum64"
	keyLID             = "mgm.fmd.lid"
	keyUID             = "mgm.fmd.uid"
	keyGID             = "mgm.fmd.gid"
	keyName            = "mgm.fmd.name"
	keyContainer       = "mgm.fmd.container"
	keyCRC32           = "mgm.fmd.crc32"
	keySequenceTrailer = "mgm.fmd.sequencetrailer"
)

var requiredKeys = []string{
	keyMagic, keySequenceHeader, keyFID, keyCID, keyFSID, keyCtime, keyCtimeNS,
	keyMtime, keyMtimeNS, keySize, keyChecksum64, keyLID, keyUID, keyGID,
	keyName, keyContainer, keyCRC32, keySequenceTrailer,
}

// FmdToEnv renders r as a URL-encoded query string.
func FmdToEnv(r fmd.Record) string {
	v := url.Values{}

	v.Set(keyMagic, strconv.FormatUint(fmd.MagicFor(r.Kind), 16))
	v.Set(keySequenceHeader, strconv.FormatUint(uint64(r.SequenceHeader), 10))
	v.Set(keyFID, strconv.FormatUint(r.FID, 10))
	v.Set(keyCID, strconv.FormatUint(r.CID, 10))
	v.Set(keyFSID, strconv.FormatUint(uint64(r.FSID), 10))
	v.Set(keyCtime, strconv.FormatUint(uint64(r.Ctime), 10))
	v.Set(keyCtimeNS, strconv.FormatUint(uint64(r.CtimeNS), 10))
	v.Set(keyMtime, strconv.FormatUint(uint64(r.Mtime), 10))
	v.Set(keyMtimeNS, strconv.FormatUint(uint64(r.MtimeNS), 10))
	v.Set(keySize, strconv.FormatUint(r.Size, 10))
	v.Set(keyChecksum64, base64.StdEncoding.EncodeToString(r.Checksum[:]))
	v.Set(keyLID, strconv.FormatUint(uint64(r.LayoutID), 10))
	v.Set(keyUID, strconv.FormatUint(uint64(r.UID), 10))
	v.Set(keyGID, strconv.FormatUint(uint64(r.GID), 10))
	v.Set(keyName, r.Name)
	v.Set(keyContainer, r.Container)
	v.Set(keyCRC32, strconv.FormatUint(uint64(r.CRC32), 16))
	v.Set(keySequenceTrailer, strconv.FormatUint(uint64(r.SequenceTrailer), 10))

	return v.Encode()
}

// EnvToFmd parses the query string produced by [FmdToEnv] back into a
// Record. Every key in requiredKeys must be present; a missing key,
// malformed integer, or malformed base64 checksum wraps [fmd.ErrDecodeFailed].
func EnvToFmd(env string) (fmd.Record, error) {
	v, err := url.ParseQuery(env)
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: parse query: %w", fmd.ErrDecodeFailed, err)
	}

	for _, k := range requiredKeys {
		if _, ok := v[k]; !ok {
			return fmd.Record{}, fmt.Errorf("%w: missing key %q", fmd.ErrDecodeFailed, k)
		}
	}

	var r fmd.Record

	magic, err := strconv.ParseUint(v.Get(keyMagic), 16, 64)
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyMagic, err)
	}

	kind, ok := fmd.KindFromMagic(magic)
	if !ok {
		return fmd.Record{}, fmt.Errorf("%w: %s: unrecognized magic %#x", fmd.ErrDecodeFailed, keyMagic, magic)
	}

	r.Kind = kind

	seqHeader, err := parseUint32(v.Get(keySequenceHeader))
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keySequenceHeader, err)
	}

	r.SequenceHeader = seqHeader

	if r.FID, err = strconv.ParseUint(v.Get(keyFID), 10, 64); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyFID, err)
	}

	if r.CID, err = strconv.ParseUint(v.Get(keyCID), 10, 64); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyCID, err)
	}

	fsid, err := parseUint32(v.Get(keyFSID))
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyFSID, err)
	}

	r.FSID = fsid

	if r.Ctime, err = parseUint32(v.Get(keyCtime)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyCtime, err)
	}

	if r.CtimeNS, err = parseUint32(v.Get(keyCtimeNS)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyCtimeNS, err)
	}

	if r.Mtime, err = parseUint32(v.Get(keyMtime)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyMtime, err)
	}

	if r.MtimeNS, err = parseUint32(v.Get(keyMtimeNS)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyMtimeNS, err)
	}

	if r.Size, err = strconv.ParseUint(v.Get(keySize), 10, 64); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keySize, err)
	}

	checksum, err := base64.StdEncoding.DecodeString(v.Get(keyChecksum64))
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyChecksum64, err)
	}

	copy(r.Checksum[:], checksum)

	if r.LayoutID, err = parseUint32(v.Get(keyLID)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyLID, err)
	}

	if r.UID, err = parseUint32(v.Get(keyUID)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyUID, err)
	}

	if r.GID, err = parseUint32(v.Get(keyGID)); err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyGID, err)
	}

	r.Name = v.Get(keyName)
	r.Container = v.Get(keyContainer)

	crc, err := strconv.ParseUint(v.Get(keyCRC32), 16, 32)
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keyCRC32, err)
	}

	r.CRC32 = uint32(crc)

	seqTrailer, err := parseUint32(v.Get(keySequenceTrailer))
	if err != nil {
		return fmd.Record{}, fmt.Errorf("%w: %s: %w", fmd.ErrDecodeFailed, keySequenceTrailer, err)
	}

	r.SequenceTrailer = seqTrailer

	return r, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
