//go:build unix

package usftp

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// fileStatFromInfoOs fills in the uid/gid (and sets the corresponding
// flag) when fi's underlying Sys() is a *syscall.Stat_t, which is the
// case for every os.FileInfo this client produces locally via os.Stat
// or os.Lstat.
func fileStatFromInfoOs(fi os.FileInfo, flags *uint32, fileStat *FileStat) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	*flags |= sshFileXferAttrUIDGID
	fileStat.UID = sys.Uid
	fileStat.GID = sys.Gid
}

// localFileOwner reports the uid/gid of a local path, used when mirroring
// ownership into a FileStat that local os.Stat cannot express portably
// (Client.PutFile uses it for the ATTRS it sends with OPEN).
func localFileOwner(path string) (uid, gid uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Uid, st.Gid, nil
}
