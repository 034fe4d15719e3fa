package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCPU(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	stop, err := StartCPU(path)
	require.NoError(t, err)

	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum

	stop()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStartCPUBadPath(t *testing.T) {
	_, err := StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.prof"))
	assert.Error(t, err)
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, WriteHeap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
