package fs

import "encoding/binary"

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func leWrite32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
