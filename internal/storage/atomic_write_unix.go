//go:build !windows

package storage

import "fmt"

// atomicRenameWindows is a stub on non-Windows platforms; the portable path
// in AtomicWriteFile uses os.Rename instead and never reaches it.
func atomicRenameWindows(oldpath, newpath string) error {
	return fmt.Errorf("atomicRenameWindows called on non-Windows platform")
}
