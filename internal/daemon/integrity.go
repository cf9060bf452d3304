package daemon

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/ipsix/avsentry/internal/hashing"
)

// VerifySelfIntegrity compares the running executable against an
// expected SHA-256, for deployments that pin the shipped binary.
func VerifySelfIntegrity(expected string) error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve executable")
	}
	actual, err := hashing.Digest(exe)
	if err != nil {
		return errors.Wrap(err, "hash executable")
	}
	if actual != expected {
		return errors.Newf("self-integrity mismatch: expected %s got %s", expected, actual)
	}
	return nil
}
