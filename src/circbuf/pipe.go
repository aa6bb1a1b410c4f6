package circbuf

import (
	"defs"
	"fdops"
	"lock"
	"stat"
)

// pipeEnd is one direction's shared state onto a Pipe_t: the read end
// and the write end are separate objects (each with its own refcount)
// so either can be closed independently while both still manipulate
// the same Circbuf_t — a writer blocks on a full pipe until the reader
// drains it, and vice versa.
type pipeEnd struct {
	p      *Pipe_t
	writer bool
	refs   int
	closed bool
}

// Pipe_t is the shared state behind a pipe(2) pair: one ring buffer, a
// spin lock serializing both ends, and per-end open counts so the
// writer sees EOF once every reader has gone and the reader sees EOF
// once every writer has gone and the buffer has drained.
type Pipe_t struct {
	mu    lock.Spinlock_t
	cb    *Circbuf_t
	rd    pipeEnd
	wr    pipeEnd
	chanr lock.Condvar_t // notified when data is read (room opens up)
	chanw lock.Condvar_t // notified when data is written (data available)
}

// MkPipe returns a connected (read-end, write-end) pair, each opened
// once.
func MkPipe(sz int) (*pipeEnd, *pipeEnd) {
	p := &Pipe_t{cb: MkCircbuf(sz)}
	p.rd = pipeEnd{p: p, refs: 1}
	p.wr = pipeEnd{p: p, writer: true, refs: 1}
	return &p.rd, &p.wr
}

// Caller_i is fdops' per-process blocking-call context, re-exported
// under the name this package's Bind pattern established.
type Caller_i = fdops.Caller_i

// Bind returns an Fdops_i view of e for the calling process c,
// capturing c at fd-creation time exactly as fs.Open's returned Fd_t
// is bound to the opening process — every subsequent Read/Write/Close
// on the returned handle is implicitly "by c" without threading c
// through the Fdops_i interface itself.
func (e *pipeEnd) Bind(c Caller_i) fdops.Fdops_i {
	return &boundPipeEnd{e: e, c: c}
}

type boundPipeEnd struct {
	e *pipeEnd
	c Caller_i
}

// Rebind returns a view of the same pipe end bound to c instead;
// reference counts are untouched (Copyfd already reopened the end on
// the child's behalf).
func (b *boundPipeEnd) Rebind(c fdops.Caller_i) fdops.Fdops_i {
	return &boundPipeEnd{e: b.e, c: c}
}

func (b *boundPipeEnd) Close() defs.Err_t {
	e, p := b.e, b.e.p
	p.mu.Acquire(b.c)
	e.refs--
	closed := e.refs == 0
	if closed {
		e.closed = true
	}
	p.mu.Release(b.c)
	if closed {
		p.chanr.NotifyAll(b.c)
		p.chanw.NotifyAll(b.c)
	}
	return 0
}

func (b *boundPipeEnd) Reopen() defs.Err_t {
	e, p := b.e, b.e.p
	p.mu.Acquire(b.c)
	e.refs++
	p.mu.Release(b.c)
	return 0
}

func (b *boundPipeEnd) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	e, p := b.e, b.e.p
	p.mu.Acquire(b.c)
	for p.cb.Empty() && !p.wr.closed {
		if b.c.Killed() {
			p.mu.Release(b.c)
			return 0, defs.EINTR
		}
		p.chanr.Wait(b.c, p.mu.AsLocker(b.c))
	}
	n, err := p.cb.Copyout(dst)
	p.mu.Release(b.c)
	if err == 0 {
		p.chanw.NotifyAll(b.c)
	}
	_ = e
	return n, err
}

func (b *boundPipeEnd) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := b.e.p
	total := 0
	for src.Remain() > 0 {
		p.mu.Acquire(b.c)
		for p.cb.Full() && !p.rd.closed {
			if b.c.Killed() {
				p.mu.Release(b.c)
				return total, defs.EINTR
			}
			p.chanw.Wait(b.c, p.mu.AsLocker(b.c))
		}
		if p.rd.closed {
			p.mu.Release(b.c)
			return total, defs.EPIPE
		}
		n, err := p.cb.Copyin(src)
		p.mu.Release(b.c)
		if err != 0 {
			return total, err
		}
		total += n
		p.chanr.NotifyAll(b.c)
		if n == 0 {
			break
		}
	}
	return total, 0
}

func (b *boundPipeEnd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(1 << 12)) // S_IFIFO-equivalent bit, kernel-internal only
	return 0
}

func (b *boundPipeEnd) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}

var _ fdops.Fdops_i = (*boundPipeEnd)(nil)
