package rlimit

import "golang.org/x/sys/unix"

// platformCeiling returns kern.maxfilesperproc; setrlimit rejects soft
// limits above it on Darwin even when the hard limit is RLIM_INFINITY.
func platformCeiling() (uint64, bool) {
	n, err := unix.SysctlUint32("kern.maxfilesperproc")
	if err != nil || n == 0 {
		return 0, false
	}
	return uint64(n), true
}
