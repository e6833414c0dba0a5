package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/fsutil"
)

func TestDiscover(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	mem.AddFile("data/b.pxt", []byte("b"))
	mem.AddFile("data/a.PXT", []byte("a"))
	mem.AddFile("data/notes.txt", []byte("n"))
	mem.AddFile("data/sub/c.pxt", []byte("c"))

	got, err := Discover(mem, []string{"data", "missing.pxt", "data/./a.PXT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.PXT", "data/b.pxt", "data/sub/c.pxt", "missing.pxt"}, got)
}

func TestDiscover_EmptyDirectory(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	mem.AddFile("data/readme.md", nil)

	got, err := Discover(mem, []string{"data"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
