package devbackup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SpaceProbe estimates whether a destination has enough free space for a
// run. The orchestrator only requires the (available, estimated) pair and
// treats a shortfall as a hard pre-condition failure.
type SpaceProbe interface {
	Estimate(dest string, sources []string) (available, estimated uint64, err error)
}

type defaultSpaceProbe struct{}

// NewSpaceProbe returns the default SpaceProbe: available bytes come from
// a statfs on the destination's filesystem; estimated bytes come from a
// symlink-safe walk summing the sources' regular file sizes.
func NewSpaceProbe() SpaceProbe { return defaultSpaceProbe{} }

func (defaultSpaceProbe) Estimate(dest string, sources []string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dest, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", dest, err)
	}
	available := uint64(stat.Bavail) * uint64(stat.Bsize)

	var estimated uint64
	for _, src := range sources {
		size, _, err := directoryStats(src)
		if err != nil {
			return 0, 0, fmt.Errorf("estimate size of %s: %w", src, err)
		}
		estimated += uint64(size)
	}
	return available, estimated, nil
}
