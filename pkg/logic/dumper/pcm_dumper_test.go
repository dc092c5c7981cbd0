package dumper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMDumperWritesRawBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcm")
	d, err := NewPCMDumper(path)
	require.NoError(t, err)

	n, err := d.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = d.Write([]byte{4, 5})
	require.NoError(t, err)

	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)
}

func TestPCMDumperCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcm")
	d, err := NewPCMDumper(path)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.Write([]byte{1})
	assert.ErrorIs(t, err, os.ErrClosed)
}
