package usftp

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSeek(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	f, err := c.Create("/s")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	off, err := f.Seek(3, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 3, off)

	off, err = f.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5, off)

	off, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 10, off)

	_, err = f.Seek(-1, io.SeekStart)
	assert.Error(t, err, "Seek to a negative offset should fail")

	_, err = f.Seek(0, 99)
	assert.Error(t, err, "Seek with an invalid whence should fail")
}

func TestFileCloseIsIdempotent(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	f, err := c.Create("/idem")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close(), "second Close should be a no-op")
}

func TestFileOperationsAfterCloseFail(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	f, err := c.Create("/closed")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("x"))
	assert.Error(t, err, "Write after Close should fail")

	_, err = f.Read(make([]byte, 1))
	assert.Error(t, err, "Read after Close should fail")
}

func TestFileNameAndBaseName(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	f, err := c.Create("/a/b/c.txt")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "/a/b/c.txt", f.Name())
	assert.Equal(t, "c.txt", f.BaseName())
}
