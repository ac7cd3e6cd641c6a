package storage

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/natefinch/atomic"

	"github.com/evolu-go/sync/synerr"
)

// Snapshot copies the entire database file referenced by path into
// dstPath atomically: a crash or concurrent reader never observes a
// half-written backup file. Grounded on calvinalkan-agent-task's use
// of the same write-temp-then-rename package for its own config
// writes (spec §6's on-disk format is "a single SQL database file per
// replica" — Snapshot is the operational tool for backing that file
// up without pausing the replica).
func Snapshot(ctx context.Context, srcPath, dstPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return &synerr.Storage{Cause: err}
	}
	defer f.Close()
	if err := ctx.Err(); err != nil {
		return synerr.ErrCancelled
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return &synerr.Storage{Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return synerr.ErrCancelled
	}
	if err := atomic.WriteFile(dstPath, &buf); err != nil {
		return &synerr.Storage{Cause: err}
	}
	return nil
}
