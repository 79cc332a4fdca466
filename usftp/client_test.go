package usftp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPathOps(t *testing.T) {
	c, srv, _ := newFakeServerPair(t)
	defer c.Close()

	require.NoError(t, c.Mkdir("/dir"))
	_, ok := srv.files["/dir"]
	assert.True(t, ok, "Mkdir did not create the entry server-side")

	rp, err := c.RealPath("/foo")
	require.NoError(t, err)
	assert.Equal(t, "/foo", rp)

	srv.files["/exists"] = []byte("hello")
	st, err := c.Stat("/exists")
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.Size)

	_, err = c.Stat("/missing")
	assert.True(t, errIsNotExist(err), "Stat(missing) error = %v, want a not-exist error", err)

	require.NoError(t, c.Remove("/exists"))
	_, ok = srv.files["/exists"]
	assert.False(t, ok, "Remove did not delete the entry server-side")
}

func TestClientWriteThenReadRoundTrip(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	want := bytes.Repeat([]byte("0123456789abcdef"), 8*1024) // 128 KiB, spans several sub-requests

	wf, err := c.Create("/big")
	require.NoError(t, err)
	_, err = wf.Write(want)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := c.OpenRead("/big")
	require.NoError(t, err)
	defer rf.Close()

	got, err := io.ReadAll(rf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientReadAtArbitraryOffsetResetsPipeline(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	size := subrequestSize*3 + 17
	want := make([]byte, size)
	for i := range want {
		want[i] = byte(i % 251)
	}
	wf, err := c.Create("/f")
	require.NoError(t, err)
	_, err = wf.Write(want)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := c.OpenRead("/f")
	require.NoError(t, err)
	defer rf.Close()

	buf := make([]byte, 10)
	n, err := rf.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// jump backward past where the primed pipeline's head now sits
	n, err = rf.ReadAt(buf, subrequestSize+5)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, want[subrequestSize+5:subrequestSize+15], buf)
}

func TestClientPutFileUploadsLocalContentAndAttrs(t *testing.T) {
	c, srv, _ := newFakeServerPair(t)
	defer c.Close()

	local := filepath.Join(t.TempDir(), "src.txt")
	want := []byte("uploaded via PutFile\n")
	require.NoError(t, os.WriteFile(local, want, 0o644))

	attrs, err := c.PutFile(local, "/dst.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len(want), attrs.Size)

	srv.mu.Lock()
	got := srv.files["/dst.txt"]
	srv.mu.Unlock()
	assert.Equal(t, want, got)
}

func TestClientOpenMissingFileFails(t *testing.T) {
	c, _, _ := newFakeServerPair(t)
	defer c.Close()

	_, err := c.OpenRead("/nope")
	assert.True(t, errIsNotExist(err), "OpenRead(missing) error = %v, want a not-exist error", err)
}
