package kernel

import (
	"bytes"
	"fmt"
	"runtime/pprof"

	gprofile "github.com/google/pprof/profile"

	"stats"
)

// Shutdown closes the backing disk image. When stats.Stats is enabled
// it first captures a heap profile and round-trips it through
// google/pprof's own profile.Parse, so a build with instrumentation on
// gets a real sanity check that the dumped profile is well-formed
// rather than a blind runtime/pprof.WriteTo call nobody ever reads.
func (k *Kernel_t) Shutdown() error {
	if stats.Stats {
		if err := dumpHeapProfile(); err != nil {
			return err
		}
	}
	return k.Disk.Close()
}

func dumpHeapProfile() error {
	var buf bytes.Buffer
	prof := pprof.Lookup("heap")
	if prof == nil {
		return fmt.Errorf("kernel: no heap profile registered")
	}
	if err := prof.WriteTo(&buf, 0); err != nil {
		return fmt.Errorf("kernel: writing heap profile: %w", err)
	}
	parsed, err := gprofile.Parse(&buf)
	if err != nil {
		return fmt.Errorf("kernel: parsing heap profile: %w", err)
	}
	fmt.Printf("kernel: heap profile at shutdown: %d samples\n", len(parsed.Sample))
	return nil
}
