package scanengine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/avsentry/internal/logging"
)

func writeFakeFreshclam(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "freshclam")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRefreshSuccess(t *testing.T) {
	bin := writeFakeFreshclam(t, `echo "daily.cvd updated"; exit 0`)
	r := NewRefresher(bin, logging.NewNop())

	require.NoError(t, r.Refresh(context.Background()))
}

func TestRefreshFailureCarriesOutput(t *testing.T) {
	bin := writeFakeFreshclam(t, `echo "ERROR: Can't download daily.cvd" >&2; exit 1`)
	r := NewRefresher(bin, logging.NewNop())

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't download daily.cvd")
}

func TestExcerptTruncates(t *testing.T) {
	long := strings.Repeat("x", 1000)
	assert.Len(t, excerpt(long), 300)
	assert.Equal(t, "short", excerpt("  short \n"))
}
