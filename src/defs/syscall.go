package defs

// Pid_t and Tid_t identify processes and (since this kernel is
// single-threaded per process) double as each other; kept distinct so
// call sites document their intent, matching tinfo's Tid_t usage.
type Pid_t int
type Tid_t int

// Syscall numbers, in their fixed dispatch order.
const (
	SYS_FORK Tid_t = iota + 1
	SYS_EXIT
	SYS_WAIT
	SYS_PIPE
	SYS_READ
	SYS_KILL
	SYS_EXEC
	SYS_FSTAT
	SYS_CHDIR
	SYS_DUP
	SYS_GETPID
	SYS_SBRK
	SYS_SLEEP
	SYS_UPTIME
	SYS_OPEN
	SYS_WRITE
	SYS_MKNOD
	SYS_UNLINK
	SYS_LINK
	SYS_MKDIR
	SYS_CLOSE
)

// open(2) flags.
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREAT  = 0x200
	O_TRUNC  = 0x400
	O_APPEND = 0x800
)

// lseek(2) whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Inode types, matching the on-disk dinode's Itype field (§6).
type Itype_t uint16

const (
	I_NONE   Itype_t = 0
	I_DIR    Itype_t = 1
	I_FILE   Itype_t = 2
	I_DEVICE Itype_t = 3
)
