package scanengine

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Refresher keeps the engine's signature database current by invoking
// freshclam. A failed refresh is reported but never affects message
// processing; the engine keeps scanning with the definitions it has.
type Refresher struct {
	bin    string
	logger *zap.SugaredLogger
}

func NewRefresher(bin string, logger *zap.SugaredLogger) *Refresher {
	if bin == "" {
		bin = "freshclam"
	}
	return &Refresher{bin: bin, logger: logger}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	started := time.Now()

	var combined bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin)
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "refresh definitions: %s", excerpt(combined.String()))
	}

	r.logger.Infow("definitions refreshed", "duration", time.Since(started).String())
	return nil
}

func excerpt(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > 300 {
		return output[:300]
	}
	return output
}
