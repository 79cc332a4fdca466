package usftp

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// File is a handle opened via Client.Open/OpenRead/Create. Reads and
// writes are pipelined through a windowed transferEngine rather than
// issued one round trip at a time; Close drains any outstanding writes
// before releasing the handle. Not safe for concurrent use — like a local
// *os.File, callers must coordinate their own access.
type File struct {
	c      *Client
	handle string
	path   string
	offset int64
	attrs  FileStat // zero Mode means "not yet populated"

	dl      *transferEngine // active download pipeline, lazily created
	pending []byte          // bytes from dl.next() not yet copied out
	pendOff uint64

	ul *transferEngine // active upload pipeline, lazily created

	opened       time.Time
	bytesRead    uint64
	bytesWritten uint64
}

func newFile(c *Client, handle, p string) *File {
	return &File{c: c, handle: handle, path: p, opened: time.Now()}
}

// Name returns the path this File was opened with.
func (f *File) Name() string { return f.path }

// BaseName returns the final element of Name.
func (f *File) BaseName() string { return path.Base(f.path) }

func (f *File) resetDownload() {
	if f.dl != nil {
		f.dl.cleanup()
	}
	f.dl = nil
	f.pending = nil
}

// ReadAt implements io.ReaderAt: it reads len(p) bytes starting at off
// without disturbing the File's current offset. Reads at the offset the
// pipeline is already primed for reuse its in-flight sub-requests;
// reading from a different offset drops the old pipeline and starts a
// fresh one there.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if f.handle == "" {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	atOffset := uint64(off)
	if f.dl != nil {
		head := f.dl.nextOffset
		if len(f.pending) > 0 {
			head = f.pendOff
		} else if len(f.dl.queue) > 0 {
			head = f.dl.queue[0].offset
		}
		if head != atOffset {
			f.resetDownload()
		}
	}
	if f.dl == nil {
		f.dl = newDownloadEngine(f.c, f.handle, atOffset, f.c.cfg.WindowSize, f.c.cfg.effectiveBlockSize())
	}

	for n < len(p) {
		if len(f.pending) == 0 {
			data, offset, done, derr := f.dl.next()
			if derr != nil {
				f.resetDownload()
				if n > 0 {
					return n, nil
				}
				return 0, derr
			}
			if done {
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			}
			f.pending = data
			f.pendOff = offset
		}
		copied := copy(p[n:], f.pending)
		n += copied
		f.pending = f.pending[copied:]
		f.pendOff += uint64(copied)
	}
	f.bytesRead += uint64(n)
	return n, nil
}

// Read implements io.Reader at the File's current offset.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// WriteAt implements io.WriterAt: data is split into sub-requests of the
// configured block size (32 KiB by default) and pipelined, like ReadAt, against a persistent upload engine reused
// across sequential writes at the same offset.
func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if f.handle == "" {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if f.ul != nil && f.ul.nextOffset != uint64(off) {
		if derr := f.ul.drain(); derr != nil && err == nil {
			err = derr
		}
		f.ul.cleanup()
		f.ul = nil
		if err != nil {
			return 0, err
		}
	}
	if f.ul == nil {
		f.ul = newUploadEngine(f.c, f.handle, uint64(off), f.c.cfg.WindowSize, f.c.cfg.effectiveBlockSize())
	}

	for len(p) > 0 {
		if !f.ul.ready() {
			if derr := f.ul.pumpUntilReady(); derr != nil {
				return n, derr
			}
		}
		chunk := p
		if uint32(len(chunk)) > f.ul.blockSize {
			chunk = chunk[:f.ul.blockSize]
		}
		if derr := f.ul.write(chunk); derr != nil {
			return n, derr
		}
		n += len(chunk)
		p = p[len(chunk):]
	}
	f.bytesWritten += uint64(n)
	return n, nil
}

// Write implements io.Writer, appending at the File's current offset.
func (f *File) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.offset)
	f.offset += int64(n)
	if uint64(f.offset) > f.attrs.Size {
		f.attrs.Size = uint64(f.offset)
	}
	return n, err
}

// Seek implements io.Seeker. Seeking relative to the end calls Stat if
// attributes are not already cached.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		if f.attrs.Mode == 0 {
			if _, err := f.Stat(); err != nil {
				return f.offset, err
			}
		}
		offset += int64(f.attrs.Size)
	default:
		return f.offset, fmt.Errorf("usftp: invalid whence %d", whence)
	}
	if offset < 0 {
		return f.offset, os.ErrInvalid
	}
	f.offset = offset
	return f.offset, nil
}

// Stat fetches and caches this File's attributes via FSTAT.
func (f *File) Stat() (*FileStat, error) {
	attrs, err := f.c.fstat(f.handle)
	if err != nil {
		return nil, err
	}
	f.attrs = *attrs
	return attrs, nil
}

// Chmod changes the permission bits of the open file.
func (f *File) Chmod(mode os.FileMode) error {
	return f.c.fsetstat(f.handle, sshFileXferAttrPermissions, &FileStat{Mode: toChmodPerm(mode)})
}

// Chown changes the owning uid/gid of the open file.
func (f *File) Chown(uid, gid int) error {
	return f.c.fsetstat(f.handle, sshFileXferAttrUIDGID, &FileStat{UID: uint32(uid), GID: uint32(gid)})
}

// Truncate changes the size of the open file.
func (f *File) Truncate(size int64) error {
	return f.c.fsetstat(f.handle, sshFileXferAttrSize, &FileStat{Size: uint64(size)})
}

// Sync requests a flush to stable storage via the fsync@openssh.com
// extension. Returns ErrUnsupported if the server did not advertise it.
func (f *File) Sync() error {
	return f.c.fsync(f.handle)
}

// Close drains any outstanding writes, releases both transfer pipelines,
// and closes the remote handle. Safe to call more than once.
func (f *File) Close() error {
	if f.handle == "" {
		return nil
	}
	var err error
	if f.ul != nil {
		err = f.ul.drain()
		f.ul.cleanup()
		f.ul = nil
	}
	f.resetDownload()

	handle := f.handle
	f.handle = ""
	if closeErr := f.c.closeHandle(handle); closeErr != nil && err == nil {
		err = closeErr
	}

	if f.c.audit != nil && (f.bytesRead > 0 || f.bytesWritten > 0 || err != nil) {
		f.c.audit.RecordTransfer(TransferRecord{
			Handle:       handle,
			Path:         f.path,
			BytesRead:    f.bytesRead,
			BytesWritten: f.bytesWritten,
			Duration:     time.Since(f.opened),
			Err:          err,
		})
	}
	return err
}
