package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriterAppendsFiltered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	w := NewWriter(path, zap.NewNop().Sugar())
	defer w.Close()

	w.Record([]byte("\x1b[32mboot ok\x1b[0m\r\n"))
	w.Record([]byte("login: "))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "boot ok\nlogin: ", string(data))
}

func TestWriterAppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	w := NewWriter(path, zap.NewNop().Sugar())
	w.Record([]byte("first\n"))
	w.Close()

	w = NewWriter(path, zap.NewNop().Sugar())
	w.Record([]byte("second\n"))
	w.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestWriterDisablesItselfOnOpenFailure(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "missing", "sub", "dir", "x.log"), zap.NewNop().Sugar())
	defer w.Close()

	// Must not panic or retry forever.
	w.Record([]byte("a"))
	w.Record([]byte("b"))
}
