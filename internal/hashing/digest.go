package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// Digest streams the file at path through SHA-256 and returns the hex
// encoded sum. The file is never loaded into memory whole.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open file for digest")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", errors.Wrap(err, "hash file")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
