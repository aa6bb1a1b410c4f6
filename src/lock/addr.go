package lock

import "unsafe"

// unsafeAddr returns the address of p as a channel identity. Any
// unique, stable address works as a sleep/wakeup channel; this is the
// one place the package reaches for unsafe, isolated so the rest of
// the file can be read without worrying about it.
func unsafeAddr(p any) uintptr {
	switch v := p.(type) {
	case *Sleeplock_t:
		return uintptr(unsafe.Pointer(v))
	case *Condvar_t:
		return uintptr(unsafe.Pointer(v))
	case *Semaphore_t:
		return uintptr(unsafe.Pointer(v))
	default:
		panic("unsupported channel owner type")
	}
}
