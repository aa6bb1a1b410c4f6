package fs

import (
	"encoding/binary"

	"defs"
	"limits"
)

// ndirect/nindirect mirror limits.NDIRECT/NINDIRECT, kept local so
// arithmetic below doesn't carry the "limits." prefix through every
// expression; see bmap.go for why indirect blocks are addressed the
// way they are.
const (
	ndirect   = limits.NDIRECT
	nindirect = limits.NINDIRECT
)

// dinode wire format: itype/major/minor/nlink are u16, size is u32,
// addrs is 13 u32 (12 direct + 1 indirect).
const dinodeWireSize = 2 + 2 + 2 + 2 + 4 + 13*4

type dinode_t struct {
	Itype defs.Itype_t
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [ndirect + 1]uint32
}

func decodeDinode(buf []byte) dinode_t {
	var d dinode_t
	d.Itype = defs.Itype_t(binary.LittleEndian.Uint16(buf[0:2]))
	d.Major = binary.LittleEndian.Uint16(buf[2:4])
	d.Minor = binary.LittleEndian.Uint16(buf[4:6])
	d.Nlink = binary.LittleEndian.Uint16(buf[6:8])
	d.Size = binary.LittleEndian.Uint32(buf[8:12])
	for i := 0; i < ndirect+1; i++ {
		off := 12 + 4*i
		d.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return d
}

func (d dinode_t) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Itype))
	binary.LittleEndian.PutUint16(buf[2:4], d.Major)
	binary.LittleEndian.PutUint16(buf[4:6], d.Minor)
	binary.LittleEndian.PutUint16(buf[6:8], d.Nlink)
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i := 0; i < ndirect+1; i++ {
		off := 12 + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], d.Addrs[i])
	}
}

// dinodeOffset returns inum's byte offset within its on-disk inode
// block.
func dinodeOffset(inum uint32) int {
	return (int(inum) % IPB) * dinodeWireSize
}
