// Package cgroup repeatedly mounts a private cgroup2 hierarchy, creates a
// child group, moves a helper process in and out of it while reading and
// writing controller files, then unmounts.
package cgroup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/thrash/internal/capability"
	"github.com/Paintersrp/thrash/internal/resources"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

// Name is the registered stressor name.
const Name = "cgroup"

const (
	umountAttempts = 100
	umountBackoff  = 100 * time.Millisecond
)

// Options configures the values written into the child group.
type Options struct {
	MemoryMax  string `json:"memoryMax"`
	MemoryHigh string `json:"memoryHigh"`
	CPUMax     string `json:"cpuMax"`
	PidsMax    int    `json:"pidsMax"`
	// Dir is the parent directory for mount points. Defaults to os.TempDir.
	Dir string `json:"dir"`
}

// DefaultOptions mirrors the limits applied to the child group when unset.
func DefaultOptions() Options {
	return Options{MemoryMax: "128M", MemoryHigh: "32M", PidsMax: 10000}
}

func init() {
	workload.Register(workload.Stressor{
		Name:      Name,
		Help:      "exercise cgroup2 mount, read, write and umount",
		Kinds:     []string{"cgroup mount cycles per sec"},
		Supported: Supported,
		Open:      Open,
	})
}

// Supported requires CAP_SYS_ADMIN and a kernel with cgroup2.
func Supported() error {
	caps := capability.Detect()
	if reason := caps.SkipReason(unix.CAP_SYS_ADMIN, "CAP_SYS_ADMIN"); reason != "" {
		return workload.Unsupported(Name, "%s", reason)
	}
	if !caps.Cgroup2 {
		return workload.Unsupported(Name, "kernel does not support cgroup2")
	}
	return nil
}

// Open creates the private mount point for this worker.
func Open(env workload.Env) (*workload.Set, error) {
	opts := DefaultOptions()
	if err := env.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	values, err := groupValues(opts)
	if err != nil {
		return nil, err
	}
	base := opts.Dir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, fmt.Sprintf("thrash-cgroup-%d-%d", os.Getpid(), env.Ordinal))
	if err := os.Mkdir(dir, 0o770); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve mount point: %w", err)
	}

	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if memMax, _ := resources.ParseMemory(opts.MemoryMax); memMax > 0 {
		logger.Debug("cgroup memory limit", "max", resources.HumanSize(memMax), "dir", dir)
	}
	c := &cycler{
		dir:     dir,
		values:  values,
		logger:  logger,
		mount:   func(path string) error { return unix.Mount("none", path, "cgroup2", 0, "") },
		unmount: unix.Unmount,
		sleep:   time.Sleep,
		spawn:   spawnChurn,
	}
	return &workload.Set{
		Workloads: []workload.Workload{c},
		Closer: func() error {
			c.umount()
			return os.Remove(dir)
		},
	}, nil
}

type value struct {
	name  string
	write string
}

func groupValues(opts Options) ([]value, error) {
	memMax, err := resources.ParseMemory(opts.MemoryMax)
	if err != nil {
		return nil, fmt.Errorf("memoryMax: %w", err)
	}
	memHigh, err := resources.ParseMemory(opts.MemoryHigh)
	if err != nil {
		return nil, fmt.Errorf("memoryHigh: %w", err)
	}
	cpuMax := ""
	if opts.CPUMax != "" {
		if cpuMax, err = resources.CPUMax(opts.CPUMax); err != nil {
			return nil, fmt.Errorf("cpuMax: %w", err)
		}
	}
	bytesOrEmpty := func(n int64) string {
		if n <= 0 {
			return ""
		}
		return strconv.FormatInt(n, 10)
	}
	pids := ""
	if opts.PidsMax > 0 {
		pids = strconv.Itoa(opts.PidsMax)
	}

	return []value{
		{"cpu.stat", ""},
		{"cpu.weight", "90"},
		{"cpu.weight.nice", "-4"},
		{"cpu.max", cpuMax},
		{"cpu.max.burst", "50"},
		{"cpu.pressure", ""},
		{"memory.current", ""},
		{"memory.min", "1M"},
		{"memory.low", "2M"},
		{"memory.high", bytesOrEmpty(memHigh)},
		{"memory.max", bytesOrEmpty(memMax)},
		{"memory.reclaim", "2M"},
		{"memory.peak", ""},
		{"memory.events", ""},
		{"memory.stat", ""},
		{"memory.swap.current", ""},
		{"memory.swap.max", ""},
		{"memory.pressure", ""},
		{"io.stat", ""},
		{"io.weight", "default 90"},
		{"io.max", ""},
		{"io.pressure", ""},
		{"pids.max", pids},
		{"pids.current", ""},
		{"cpuset.cpus", "0"},
		{"cpuset.cpus.effective", ""},
		{"cpuset.mems", "0"},
		{"cpuset.mems.effective", ""},
		{"misc.current", ""},
		{"misc.max", ""},
	}, nil
}

var topFiles = []string{
	"cgroup.type",
	"cgroup.procs",
	"cgroup.threads",
	"cgroup.controllers",
	"cgroup.subtree_control",
	"cgroup.events",
	"cgroup.max.descendants",
	"cgroup.max.depth",
	"cgroup.stat",
	"cgroup.freeze",
	"cgroup.kill",
	"cgroup.pressure",
	"irq.pressure",
}

type cycler struct {
	dir     string
	values  []value
	logger  *slog.Logger
	mount   func(path string) error
	unmount func(path string, flags int) error
	sleep   func(time.Duration)
	spawn   func() (*exec.Cmd, error)
}

// Run performs one mount, exercise, umount cycle.
func (c *cycler) Run(ctx context.Context, m *shm.Metric) error {
	start := time.Now()
	if err := c.mount(c.dir); err != nil {
		c.umount()
		if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENODEV) {
			return nil
		}
		return fmt.Errorf("mount cgroup2 on %s: %w", c.dir, err)
	}
	c.enableControllers()
	for _, name := range topFiles {
		readFile(filepath.Join(c.dir, name))
	}
	c.exerciseGroup(ctx)
	c.umount()
	m.Add(time.Since(start).Seconds(), 1)
	return nil
}

func (c *cycler) enableControllers() {
	path := filepath.Join(c.dir, "cgroup.subtree_control")
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, controller := range strings.Fields(string(raw)) {
		_ = os.WriteFile(path, []byte("+"+controller+"\n"), 0)
	}
}

func (c *cycler) exerciseGroup(ctx context.Context) {
	cmd, err := c.spawn()
	if err != nil {
		c.logger.Debug("spawn churn helper", "error", err)
		return
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	pid := strconv.Itoa(cmd.Process.Pid)
	group := filepath.Join(c.dir, "thrash-"+pid)
	if err := os.Mkdir(group, 0o660); err != nil {
		_ = os.Remove(group)
		return
	}
	defer os.Remove(group)

	for _, v := range c.values {
		if ctx.Err() != nil {
			return
		}
		_ = os.WriteFile(filepath.Join(group, "cgroup.procs"), []byte(pid+"\n"), 0)
		file := filepath.Join(group, v.name)
		readFile(file)
		if v.write != "" {
			_ = os.WriteFile(file, []byte(v.write), 0)
			readFile(file)
		}
		_ = os.WriteFile(filepath.Join(c.dir, "cgroup.procs"), []byte(pid+"\n"), 0)
	}
}

// umount retries until the kernel reports the path is no longer a mount
// point. Busy mounts back off and retry.
func (c *cycler) umount() {
	for i := 0; i < umountAttempts; i++ {
		flags := 0
		if rand.IntN(2) == 1 {
			flags = unix.MNT_FORCE
		}
		err := c.unmount(c.dir, flags)
		if err == nil {
			if i > 1 {
				c.sleep(umountBackoff)
			}
			continue
		}
		switch {
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ENOMEM):
			c.sleep(umountBackoff)
		case errors.Is(err, syscall.EINVAL):
			return
		default:
			c.logger.Info("umount failed", "path", c.dir, "error", err)
		}
	}
}

func readFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	buf := make([]byte, 1024)
	var size int64
	for {
		n, err := f.Read(buf)
		size += int64(n)
		if err != nil || n == 0 {
			break
		}
	}
	for i := int64(0); i < 2 && i < size; i++ {
		if _, err := f.Seek(rand.Int64N(size), io.SeekStart); err == nil {
			_, _ = f.Read(buf)
		}
	}
}
