package scheduler

import (
	"os"

	"golang.org/x/sys/unix"
)

// devShm is preferred for spill files when it is a real tmpfs with room to
// spare, giving mem-buffered tempfiles without any code change downstream.
const devShm = "/dev/shm"

const tmpfsMagic = 0x01021994

// ResolveTmpDir picks the directory spill and dictionary files should live
// in: an explicit --tmpdir always wins; otherwise /dev/shm when it is a
// tmpfs with at least minFree bytes available; otherwise the OS default.
func ResolveTmpDir(preferred string, minFree uint64) string {
	if preferred != "" {
		return preferred
	}
	var st unix.Statfs_t
	if err := unix.Statfs(devShm, &st); err == nil && st.Type == tmpfsMagic {
		if uint64(st.Bavail)*uint64(st.Bsize) >= minFree {
			return devShm
		}
	}
	return os.TempDir()
}

// AvailableBytes reports the free space at path, used to sanity-check a
// spill directory before the hit buffer starts writing shards into it.
func AvailableBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// MemoryBudget clamps the requested reference/query block budget to the process address-space rlimit when
// one is set, so an over-large --block-size fails up front as a smaller
// block plan instead of an OutOfMemory abort mid-run.
func MemoryBudget(requested int64) int64 {
	if requested <= 0 {
		requested = 1
	}
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &lim); err != nil {
		return requested
	}
	if lim.Cur == unix.RLIM_INFINITY {
		return requested
	}
	// Leave half the address-space limit for indexes and DP state.
	ceiling := int64(lim.Cur / 2)
	if ceiling > 0 && requested > ceiling {
		return ceiling
	}
	return requested
}
