package usftp

// SFTP v3 packet types. The first byte of every frame body.
const (
	sshFxpInit          = 1
	sshFxpVersion       = 2
	sshFxpOpen          = 3
	sshFxpClose         = 4
	sshFxpRead          = 5
	sshFxpWrite         = 6
	sshFxpLstat         = 7
	sshFxpFstat         = 8
	sshFxpSetstat       = 9
	sshFxpFsetstat      = 10
	sshFxpOpendir       = 11
	sshFxpReaddir       = 12
	sshFxpRemove        = 13
	sshFxpMkdir         = 14
	sshFxpRmdir         = 15
	sshFxpRealpath      = 16
	sshFxpStat          = 17
	sshFxpRename        = 18
	sshFxpReadlink      = 19
	sshFxpSymlink       = 20
	sshFxpStatus        = 101
	sshFxpHandle        = 102
	sshFxpData          = 103
	sshFxpName          = 104
	sshFxpAttrs         = 105
	sshFxpExtended      = 200
	sshFxpExtendedReply = 201
)

// SSH_FX_* status codes, carried by every STATUS packet.
const (
	sshFxOk               = 0
	sshFxEOF              = 1
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
	sshFxBadMessage       = 5
	sshFxNoConnection     = 6
	sshFxConnectionLost   = 7
	sshFxOPUnsupported    = 8
)

// sftpProtocolVersion is the only protocol version this client speaks.
// A server offering anything higher must downgrade to it during init.
const sftpProtocolVersion = 3

// Attribute bitmask flags for the ATTRS wire record.
const (
	sshFileXferAttrSize        = 0x00000001
	sshFileXferAttrUIDGID      = 0x00000002
	sshFileXferAttrPermissions = 0x00000004
	sshFileXferAttrACmodTime   = 0x00000008
	sshFileXferAttrExtended    = 0x80000000
)

// OPEN pflags, forwarded verbatim as a 32-bit word.
const (
	sshFxfRead   = 0x00000001
	sshFxfWrite  = 0x00000002
	sshFxfAppend = 0x00000004
	sshFxfCreat  = 0x00000008
	sshFxfTrunc  = 0x00000010
	sshFxfExcl   = 0x00000020
)

// firstRequestID is the lowest ID ever issued; 0..255 are reserved.
const firstRequestID = 256

// OpenSSH protocol extensions negotiated off the VERSION packet's
// extension-pair list rather than a base opcode.
const (
	extStatvfs  = "statvfs@openssh.com"
	extFsync    = "fsync@openssh.com"
	extHardlink = "hardlink@openssh.com"
	extPosixRen = "posix-rename@openssh.com"
)
