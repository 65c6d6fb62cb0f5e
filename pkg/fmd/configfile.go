package fmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig mirrors Config's public fields for JSON decoding; Logger has
// no file representation and is always supplied by the caller after load.
type fileConfig struct {
	MetaLogDir   string `json:"meta_log_dir"`
	LocalPrefix  string `json:"local_prefix"`
	MmapCapBytes int64  `json:"mmap_cap_bytes"`
	FsyncEveryN  int    `json:"fsync_every_n"`
	BucketFanout int    `json:"bucket_fanout"`
}

// LoadConfig reads a HuJSON (JSON-with-comments) configuration file at
// path and returns a validated [Config]. Accepting comments and trailing
// commas matches the teacher's config-loading convention for
// human-edited operator files.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("fmd: read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("fmd: config %s: invalid JSONC: %w", path, err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return Config{}, fmt.Errorf("fmd: config %s: invalid JSON: %w", path, err)
	}

	cfg := Config{
		MetaLogDir:   fc.MetaLogDir,
		LocalPrefix:  fc.LocalPrefix,
		MmapCapBytes: fc.MmapCapBytes,
		FsyncEveryN:  fc.FsyncEveryN,
		BucketFanout: fc.BucketFanout,
	}

	return cfg.Validate()
}
