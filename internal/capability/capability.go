// Package capability reports which privileges and kernel features are
// available to the current process.
package capability

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Capabilities describes what the host allows this process to do.
type Capabilities struct {
	// Effective is the effective capability mask.
	Effective uint64
	// Root is true when running with uid 0.
	Root bool
	// Cgroup2 is true if the kernel lists cgroup2 in /proc/filesystems.
	Cgroup2 bool
}

// Detect reads the current process capabilities.
func Detect() *Capabilities {
	caps := &Capabilities{Root: os.Geteuid() == 0}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err == nil {
		caps.Effective = uint64(data[0].Effective) | uint64(data[1].Effective)<<32
	}

	if raw, err := os.ReadFile("/proc/filesystems"); err == nil {
		caps.Cgroup2 = hasFilesystem(string(raw), "cgroup2")
	}
	return caps
}

// Has reports whether capability bit is in the effective set.
func (c *Capabilities) Has(bit int) bool {
	if bit < 0 || bit > 63 {
		return false
	}
	return c.Effective&(1<<uint(bit)) != 0
}

// SkipReason explains why a stressor needing capability bit cannot run, or
// returns "" when it can.
func (c *Capabilities) SkipReason(bit int, name string) string {
	if c.Has(bit) {
		return ""
	}
	return "need to be running with " + name + " rights"
}

func hasFilesystem(list, fs string) bool {
	for _, line := range strings.Split(list, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[len(fields)-1] == fs {
			return true
		}
	}
	return false
}
