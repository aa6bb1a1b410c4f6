// Package console is a hosted stand-in for a UART driver and console
// line discipline: a minimal Fdops_i-satisfying device backed by a
// line buffer, not a real discipline (echo, ^C, backspace editing are
// not modeled).
package console

import (
	"os"

	"golang.org/x/sys/unix"

	"defs"
	"fdops"
	"lock"
	"stat"
)

// Console_t is the single system console, device major
// defs.D_CONSOLE: writes go to the host process's stdout, reads block
// until a full line has arrived on the input queue fed by Feed (a
// test harness, or a real input loop if one were wired to host
// stdin). The queue is an MPMCChan_t: any number of feeders (harts
// taking UART interrupts, tests) and any number of blocked readers
// (every process with the console open) may use it concurrently.
type Console_t struct {
	input *lock.MPMCChan_t

	// raw, when true, disables host-terminal line buffering via
	// golang.org/x/sys/unix termios flags so Feed can deliver
	// unbuffered input byte-by-byte, mirroring a real line discipline
	// toggling ICANON/ECHO on the UART.
	raw bool
}

// inputDepth bounds buffered input lines; a feeder blocks past this,
// the same backpressure a full UART ring imposes.
const inputDepth = 64

var global = MkConsole()

// MkConsole returns a console with an empty input queue; everything
// outside this package's tests goes through the Get singleton instead.
func MkConsole() *Console_t {
	return &Console_t{input: lock.MkMPMCChan(inputDepth)}
}

// Get returns the system console, device (defs.D_CONSOLE, 0).
func Get() *Console_t { return global }

// Feed delivers one already-newline-terminated line of input to the
// console's read queue, as a real UART interrupt handler would after
// the line discipline saw '\n'.
func (c *Console_t) Feed(h lock.HartLocal, line []byte) {
	c.input.Send(h, line)
}

// SetRawMode toggles the host terminal's canonical/echo flags via
// termios, for a hosted console attached to a real tty rather than
// Feed-driven test input.
func (c *Console_t) SetRawMode(enable bool) error {
	fd := int(os.Stdin.Fd())
	term, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	if enable {
		term.Lflag &^= unix.ICANON | unix.ECHO
	} else {
		term.Lflag |= unix.ICANON | unix.ECHO
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, term); err != nil {
		return err
	}
	c.raw = enable
	return nil
}

// Open returns an Fdops_i view of the console for major/minor
// defs.D_CONSOLE.
func (c *Console_t) Open(caller lock.HartLocal) fdops.Fdops_i {
	return &consoleFd{c: c, h: caller}
}

type consoleFd struct {
	c *Console_t
	h lock.HartLocal
}

// Rebind returns a console view bound to c, for fork's descriptor
// duplication.
func (f *consoleFd) Rebind(c fdops.Caller_i) fdops.Fdops_i {
	return &consoleFd{c: f.c, h: c}
}

func (f *consoleFd) Close() defs.Err_t   { return 0 }
func (f *consoleFd) Reopen() defs.Err_t  { return 0 }
func (f *consoleFd) Lseek(int, int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}

func (f *consoleFd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(defs.I_DEVICE))
	st.Wrdev(uint(defs.Mkdev(defs.D_CONSOLE, 0)))
	return 0
}

func (f *consoleFd) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	line := f.c.input.Recv(f.h).([]byte)
	return dst.Uioread(line)
}

func (f *consoleFd) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uiowrite(buf)
	if err != 0 {
		return n, err
	}
	os.Stdout.Write(buf[:n])
	return n, 0
}

var _ fdops.Fdops_i = (*consoleFd)(nil)
