// fmdctl is a small operator CLI for manual attach/trim/dump of a
// filesystem's changelog.
//
// Usage:
//
//	fmdctl -c <config.json> attach <dir> <fsid>
//	fmdctl -c <config.json> trim <dir> <fsid> <new-path>
//	fmdctl -c <config.json> dump <dir> <fsid>
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/stormvault/fmdlog/pkg/fmd"
	"github.com/stormvault/fmdlog/pkg/fmd/envcodec"
	"github.com/stormvault/fmdlog/pkg/fs"
)

func main() {
	var configPath string

	flag.StringVarP(&configPath, "config", "c", "", "path to HuJSON config file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 || configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fmdctl -c <config.json> {attach|trim|dump} <dir> <fsid> [new-path]")
		os.Exit(1)
	}

	cmd, dir, fsidStr := args[0], args[1], args[2]

	fsid64, err := strconv.ParseUint(fsidStr, 10, 16)
	if err != nil {
		fatalf("bad fsid %q: %v", fsidStr, err)
	}

	fsid := uint16(fsid64)

	cfg, err := fmd.LoadConfig(configPath)
	if err != nil {
		fatalf("%v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg.Logger = logger

	h, err := fmd.New(cfg, fs.NewReal(), nil)
	if err != nil {
		fatalf("%v", err)
	}

	if err := h.AttachLatestChangeLogFile(dir, fsid); err != nil {
		fatalf("attach: %v", err)
	}

	switch cmd {
	case "attach":
		stats := h.Stats()
		fmt.Printf("attached fsid=%d corrupt_records=%d\n", fsid, stats.CorruptRecords)

	case "trim":
		if len(args) < 4 {
			fatalf("trim requires <new-path>")
		}

		result, err := h.Trim(fsid, args[3])
		if err != nil {
			fatalf("trim: %v", err)
		}

		fmt.Printf("trimmed fsid=%d live=%d bytes_before=%d bytes_after=%d\n",
			fsid, result.LiveRecords, result.BytesBefore, result.BytesAfter)

	case "dump":
		if err := h.ForEachFmd(fsid, func(fid uint64, rec fmd.Record) {
			fmt.Println(envcodec.FmdToEnv(rec))
		}); err != nil {
			fatalf("dump: %v", err)
		}

	default:
		fatalf("unknown command %q", cmd)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fmdctl: "+format+"\n", args...)
	os.Exit(1)
}
