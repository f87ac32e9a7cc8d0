package devfs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/deadline"
	"github.com/Paintersrp/thrash/internal/visited"
	"github.com/Paintersrp/thrash/internal/workload"
)

// steppingClock advances by step on every Now call, so each budget check
// observes one more simulated suspension point.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c *steppingClock) Sleep(d time.Duration)                  { time.Sleep(d) }

func testWalker(t *testing.T, opts Options) *walker {
	t.Helper()
	w := newWalker(opts, workload.Env{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	t.Cleanup(w.stop)
	return w
}

func mkdirs(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Join(root, p), 0o777); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := os.Chmod(filepath.Join(root, p), 0o777); err != nil {
			t.Fatalf("chmod %s: %v", p, err)
		}
	}
}

func TestSiblingIndex(t *testing.T) {
	cases := map[string]int{
		"tty":   -1,
		"tty0":  0,
		"ttyS2": 2,
		"loop7": 7,
		"sda12": 12,
		"3":     -1,
		"12":    2,
	}
	for name, want := range cases {
		if got := siblingIndex(name); got != want {
			t.Fatalf("%s: expected %d, got %d", name, want, got)
		}
	}
}

func TestWalkHonoursMaxDepth(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b/c/d")

	opts := DefaultOptions()
	opts.Root = root
	opts.MaxDepth = 2
	opts.Threads = 0
	w := testWalker(t, opts)

	stats := w.walk(context.Background())
	if stats.dirs != 3 {
		t.Fatalf("expected root plus two levels, got %d dirs", stats.dirs)
	}
}

func TestWalkCapsNumberedSiblings(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "loop0", "loop1", "loop2", "loop3", "loop4", "misc")

	opts := DefaultOptions()
	opts.Root = root
	opts.Threads = 0
	w := testWalker(t, opts)

	stats := w.walk(context.Background())
	if stats.dirs != 5 {
		t.Fatalf("expected root, loop0-2 and misc, got %d dirs", stats.dirs)
	}
}

func TestWalkCachesUnworthyDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "private", "public")
	if err := os.Chmod(filepath.Join(root, "private"), 0o700); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	opts := DefaultOptions()
	opts.Root = root
	opts.Threads = 0
	w := testWalker(t, opts)

	if stats := w.walk(context.Background()); stats.dirs != 2 {
		t.Fatalf("expected root and public, got %d dirs", stats.dirs)
	}
	class, ok := w.cache.Lookup(filepath.Join(root, "private"))
	if !ok || class != visited.NotWorthy {
		t.Fatalf("expected private to be cached as not worthy, got %v (found=%t)", class, ok)
	}
}

func TestWalkStopsWhenCancelled(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b")

	opts := DefaultOptions()
	opts.Root = root
	opts.Threads = 0
	w := testWalker(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if stats := w.walk(ctx); stats.dirs != 0 {
		t.Fatalf("expected no directories after cancel, got %d", stats.dirs)
	}
}

func TestExerciseAbandonsSlowDevice(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null")
	}
	opts := DefaultOptions()
	opts.Threads = 0
	w := testWalker(t, opts)
	w.guard = deadline.Guard{
		Threshold: 250 * time.Millisecond,
		Clock:     &steppingClock{now: time.Unix(0, 0), step: 100 * time.Millisecond},
	}
	timeouts := 0
	w.timeout = func() { timeouts++ }

	w.exercise("/dev/null", 5)

	if timeouts != 1 {
		t.Fatalf("expected the device to be abandoned once, got %d", timeouts)
	}
}

func TestExerciseFastDevice(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null")
	}
	opts := DefaultOptions()
	opts.Threads = 0
	w := testWalker(t, opts)
	w.guard = deadline.Guard{Threshold: time.Hour, Clock: &steppingClock{now: time.Unix(0, 0)}}
	timeouts := 0
	w.timeout = func() { timeouts++ }

	w.exercise("/dev/null", 3)

	if timeouts != 0 {
		t.Fatalf("expected no timeouts, got %d", timeouts)
	}
}

func TestIsSCSIUsesSysfs(t *testing.T) {
	sysfs := t.TempDir()
	mkdirs(t, sysfs, "class/scsi_device/0:0:0:0/device/block/sda")

	opts := DefaultOptions()
	opts.Sysfs = sysfs
	opts.Threads = 0
	w := testWalker(t, opts)

	if !w.isSCSI("/dev/sda") {
		t.Fatalf("expected sda to be a scsi device")
	}
	if w.isSCSI("/dev/nvme0n1") {
		t.Fatalf("expected nvme0n1 not to be a scsi device")
	}
	if class, _ := w.scsi.Lookup("/dev/nvme0n1"); class != visited.NotSCSI {
		t.Fatalf("expected negative result to be cached, got %v", class)
	}
}

func TestTryOpenMissing(t *testing.T) {
	if err := tryOpen(filepath.Join(t.TempDir(), "missing"), time.Second); err == nil {
		t.Fatalf("expected error opening a missing path")
	}
}

func TestPoolStopsOnClose(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null")
	}
	set, err := Open(workload.Env{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = set.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected helper pool to stop")
	}
}

func TestPrefixDispatchMatchesDeviceNames(t *testing.T) {
	cases := map[string][]string{
		"ptp0":       {"ptp"},
		"dm-0":       {"dm"},
		"sr0":        {"sr0"},
		"video0":     {"video"},
		"media1":     {"media"},
		"vcsa1":      {"vcs"},
		"hpet":       {"hpet"},
		"kmsg":       {"kmsg"},
		"port":       {"port"},
		"random":     {"random"},
		"sda":        nil,
		"input/ptp0": nil,
	}
	for rel, want := range cases {
		got := probesFor(rel)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d probes, got %d", rel, len(want), len(got))
		}
		for i := range want {
			if got[i].prefix != want[i] {
				t.Fatalf("%s: expected prefix %q, got %q", rel, want[i], got[i].prefix)
			}
		}
	}
}

func TestIoctlEncoding(t *testing.T) {
	if got := ioc(iocRead, 'V', 0x00, v4l2CapabilitySize); got != 0x80685600 {
		t.Fatalf("expected VIDIOC_QUERYCAP 0x80685600, got %#x", got)
	}
	if got := ioc(iocRead|iocWrite, '|', 0x00, mediaDeviceInfoSize); got != 0xc1007c00 {
		t.Fatalf("expected MEDIA_IOC_DEVICE_INFO 0xc1007c00, got %#x", got)
	}
}
