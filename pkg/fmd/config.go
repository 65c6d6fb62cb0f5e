package fmd

import (
	"fmt"
	"log/slog"
)

// defaultMmapCapBytes is the memory-map ceiling the source hard-codes at
// 4 GiB. SPEC_FULL.md calls this out as a policy knob to expose, not a
// constant to keep baked in.
const defaultMmapCapBytes = 4 << 30

// defaultBucketFanout is the number of local-replica files per bucketing
// directory under [Config.LocalPrefix].
const defaultBucketFanout = 10000

// Config holds the settings a [Handler] needs to attach and maintain
// changelogs for one storage server.
//
// Only MetaLogDir is required; every other field has a documented default
// applied by [Config.Validate].
type Config struct {
	// MetaLogDir is the directory that holds this server's
	// fmd.<unixseconds>.<fsid:04d>.mdlog files. Required.
	MetaLogDir string

	// LocalPrefix is the root of the bucketed local-replica tree. Optional.
	// It is loaded and kept here but neither the handler nor the fsck
	// engine reads it; the engine's Direction A/B walk uses
	// [fsck.Options.DataDir] (the fsck CLI's --data flag) instead.
	LocalPrefix string

	// MmapCapBytes bounds how large a changelog the boot scanner will
	// memory-map. Attaching a larger file fails with [ErrSizeLimit] and
	// the operator must trim first. Default 4 GiB.
	MmapCapBytes int64

	// FsyncEveryN is a batched-fsync interval (every N appends) for
	// operators who want stronger durability than the no-fsync-by-default
	// contract. It is validated (must be >= 0, default 0) and loaded from
	// the config file, but the changelog appender does not read it:
	// appends are never fsynced, whatever its value.
	FsyncEveryN int

	// BucketFanout is the number of local-replica files per bucketing
	// directory (see [LocalReplicaPath]). Default 10000.
	BucketFanout int

	// Logger receives one line per attach, scan completion, trim, and
	// fsck repair action. Never receives one line per Commit/GetFmd/
	// DeleteFmd - that is the hot path. Defaults to [slog.Default] if nil.
	Logger *slog.Logger
}

// Validate checks Config for obviously broken settings and returns a copy
// with defaults applied.
func (c Config) Validate() (Config, error) {
	if c.MetaLogDir == "" {
		return Config{}, fmt.Errorf("fmd: config: MetaLogDir is required")
	}

	if c.MmapCapBytes < 0 {
		return Config{}, fmt.Errorf("fmd: config: MmapCapBytes must be >= 0, got %d", c.MmapCapBytes)
	}

	if c.MmapCapBytes == 0 {
		c.MmapCapBytes = defaultMmapCapBytes
	}

	if c.FsyncEveryN < 0 {
		return Config{}, fmt.Errorf("fmd: config: FsyncEveryN must be >= 0, got %d", c.FsyncEveryN)
	}

	if c.BucketFanout < 0 {
		return Config{}, fmt.Errorf("fmd: config: BucketFanout must be >= 0, got %d", c.BucketFanout)
	}

	if c.BucketFanout == 0 {
		c.BucketFanout = defaultBucketFanout
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c, nil
}
