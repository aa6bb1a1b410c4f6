package fs

import (
	"encoding/binary"

	"defs"
	"fdops"
	"lock"
	"ustr"
)

// direntWireSize is the on-disk 16-byte directory entry: inum:u16,
// name:[u8;14].
const direntWireSize = 2 + 14
const direntNameMax = 14

func direntEncode(buf []byte, inum uint16, name ustr.Ustr) {
	binary.LittleEndian.PutUint16(buf[0:2], inum)
	n := copy(buf[2:2+direntNameMax], []byte(name.String()))
	for i := n; i < direntNameMax; i++ {
		buf[2+i] = 0
	}
}

func direntDecode(buf []byte) (uint16, ustr.Ustr) {
	inum := binary.LittleEndian.Uint16(buf[0:2])
	raw := buf[2 : 2+direntNameMax]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	name := make(ustr.Ustr, end)
	copy(name, raw[:end])
	return inum, name
}

// Dirlookup scans dp (which must be a directory and payload-locked)
// for name, trimmed of trailing NULs. Returns the matching inode (a
// fresh Get, not yet locked) and the
// byte offset of its entry within the directory, or ok=false.
func (fs *Fs_t) Dirlookup(h lock.HartLocal, dp *Inode_t, name ustr.Ustr) (ip *Inode_t, off int, ok bool) {
	if dp.data.Itype != defs.I_DIR {
		panic("fs: dirlookup on non-directory")
	}
	buf := make([]byte, direntWireSize)
	for o := 0; o+direntWireSize <= int(dp.data.Size); o += direntWireSize {
		kbuf := fdops.MkKerneliobuf(buf)
		n, err := dp.Read(h, kbuf, o, direntWireSize)
		if err != 0 || n != direntWireSize {
			break
		}
		inum, ename := direntDecode(buf)
		if inum == 0 {
			continue
		}
		if ename.Eq(name) {
			return fs.Get(h, dp.dev, uint32(inum)), o, true
		}
	}
	return nil, 0, false
}

// Dirlink writes (name, inum) into the first free slot of dp,
// appending a new block's worth of entries if none is free, refusing
// duplicates. dp must be payload-locked and the caller must be inside
// a log transaction.
func (fs *Fs_t) Dirlink(h lock.HartLocal, dp *Inode_t, name ustr.Ustr, inum uint32) defs.Err_t {
	if existing, _, ok := fs.Dirlookup(h, dp, name); ok {
		fs.Put(h, existing)
		return defs.EEXIST
	}

	buf := make([]byte, direntWireSize)
	off := 0
	for ; off+direntWireSize <= int(dp.data.Size); off += direntWireSize {
		kbuf := fdops.MkKerneliobuf(buf)
		n, err := dp.Read(h, kbuf, off, direntWireSize)
		if err != 0 || n != direntWireSize {
			return defs.EINVAL
		}
		existingInum, _ := direntDecode(buf)
		if existingInum == 0 {
			break
		}
	}

	direntEncode(buf, uint16(inum), name)
	kbuf := fdops.MkKerneliobuf(buf)
	if _, err := dp.Write(h, kbuf, off, direntWireSize); err != 0 {
		return err
	}
	return 0
}
