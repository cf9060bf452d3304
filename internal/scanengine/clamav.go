package scanengine

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ClamAV exit codes: 0 no virus, 1 virus found, anything else is an
// engine failure.
const (
	exitClean    = 0
	exitInfected = 1
)

const unknownSignature = "Unknown"

type ClamAV struct {
	bin     string
	timeout time.Duration
}

func NewClamAV(bin string, timeout time.Duration) *ClamAV {
	if bin == "" {
		bin = "clamscan"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ClamAV{bin: bin, timeout: timeout}
}

func (c *ClamAV) Name() string { return "clamav" }

func (c *ClamAV) Scan(ctx context.Context, path string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin, "--no-summary", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := strings.TrimSpace(stdout.String())

	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{
			Status: StatusError,
			Detail: "scan timed out after " + c.timeout.String(),
			Output: output,
		}
	}

	if err == nil {
		return Outcome{Status: StatusClean, Output: output}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == exitInfected {
		return Outcome{
			Status:    StatusInfected,
			Signature: parseSignature(output),
			Output:    output,
		}
	}

	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		detail = err.Error()
	}
	return Outcome{Status: StatusError, Detail: detail, Output: output}
}

func (c *ClamAV) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.bin, "--version").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// parseSignature pulls the signature name out of a clamscan report line
// of the form "<path>: <name> FOUND". The parse is best effort: an
// unrecognized report still counts as infected, never as clean.
func parseSignature(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if idx := strings.LastIndex(line, ": "); idx >= 0 {
			if name := strings.TrimSpace(line[idx+2:]); name != "" {
				return name
			}
		}
	}
	return unknownSignature
}
