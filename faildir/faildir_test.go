package faildir

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMove(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, t.TempDir(), "CT.1.2.3.dcm", "payload")

	dest, err := Move(root, src, "Error ensuring SOPInstanceUID in "+src, errors.New("no UID"))
	require.NoError(t, err)

	// Source is gone, destination holds the payload
	_, statErr := os.Stat(src)
	assert.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Destination sits under failed/ with a timestamp prefix
	assert.Equal(t, filepath.Join(root, DirName), filepath.Dir(dest))
	assert.True(t, strings.HasSuffix(dest, "_CT.1.2.3.dcm"))

	// Sidecar carries the context, the cause and a timestamp line
	sidecar, err := os.ReadFile(dest + ".error")
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), "Error ensuring SOPInstanceUID")
	assert.Contains(t, string(sidecar), "no UID")
	assert.Len(t, strings.Split(strings.TrimRight(string(sidecar), "\n"), "\n"), 2)
}

func TestCopy_KeepsSource(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, t.TempDir(), "RTPLAN_Head.dcm", "plan bytes")

	dest, err := Copy(root, src, "C-STORE failed with status 0xA700", nil)
	require.NoError(t, err)

	// Original survives, quarantine copy matches
	original, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "plan bytes", string(original))

	copied, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "plan bytes", string(copied))

	_, err = os.Stat(dest + ".error")
	assert.NoError(t, err)
}

func TestMove_MissingSource(t *testing.T) {
	root := t.TempDir()
	_, err := Move(root, filepath.Join(root, "absent.dcm"), "context", nil)
	assert.Error(t, err)
}

func TestAppendLog(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, AppendLog(root, "send failed for CT.1.dcm: status 0xA700"))
	require.NoError(t, AppendLog(root, "send failed for CT.2.dcm: status 0xA700"))

	data, err := os.ReadFile(filepath.Join(root, DirName, "send_errors.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "CT.1.dcm")
	assert.Contains(t, lines[1], "CT.2.dcm")
}
