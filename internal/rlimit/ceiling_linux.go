package rlimit

func platformCeiling() (uint64, bool) {
	return 0, false
}
