package lasterr

// #include "thread.h"
import "C"

func threadID() uint64 {
	return uint64(C.lasterr_thread_id())
}

// exitedThreads returns the ids of threads that exited since the last call.
func exitedThreads() []uint64 {
	var buf [64]C.uint64_t
	var ids []uint64
	for {
		n := int(C.lasterr_take_exited(&buf[0], C.size_t(len(buf))))
		for _, id := range buf[:n] {
			ids = append(ids, uint64(id))
		}
		if n < len(buf) {
			return ids
		}
	}
}
