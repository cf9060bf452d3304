package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const scratchFilePrefix = "avsentry-"

// PrepareScratchDir creates the scratch directory and sweeps temp files
// a previous crash may have stranded. Every live fetch allocates under
// this directory, so anything present at startup is stale.
func PrepareScratchDir(dir string, logger *zap.SugaredLogger) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create scratch dir")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read scratch dir")
	}

	swept := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchFilePrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warnw("stale temp file removal failed", "path", path, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		logger.Infow("stale temp files swept", "count", swept)
	}
	return nil
}
