package checkpointer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a Serializable holding a single byte
type counter struct{ n byte }

func (c *counter) GobEncode() ([]byte, error) { return []byte{c.n}, nil }

func (c *counter) GobDecode(in []byte) error {
	if len(in) != 1 {
		return errors.New("counter: want one byte")
	}
	c.n = in[0]
	return nil
}

func TestFilenameEnumerator(t *testing.T) {
	next := FilenameEnumerator(3, "dir", "agent", ".bin")
	assert.Equal(t, filepath.Join("dir", "agent000004.bin"), next())
	assert.Equal(t, filepath.Join("dir", "agent000005.bin"), next())
}

func TestNStep(t *testing.T) {
	dir := t.TempDir()
	c := &counter{}
	_, err := NewNStep(0, c, nil)
	assert.Error(t, err)

	n, err := NewNStep(2, c, FilenameEnumerator(0, dir, "c", ".bin"))
	require.NoError(t, err)
	hook := n.Hook()
	for i := 1; i <= 5; i++ {
		c.n = byte(i)
		require.NoError(t, hook(algorithm.Report{Iteration: i}))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	require.NoError(t, err)
	assert.Len(t, files, 2, "checkpoints at iterations 2 and 4")

	restored := &counter{}
	require.NoError(t, Load(filepath.Join(dir, "c000002.bin"), restored))
	assert.Equal(t, byte(4), restored.n)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Load(filepath.Join(dir, "missing.bin"), &counter{}))

	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, bytes.Repeat([]byte{1}, 3), 0o644))
	assert.Error(t, Load(bad, &counter{}))
}
