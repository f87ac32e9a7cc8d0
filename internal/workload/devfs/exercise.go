package devfs

import (
	"errors"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/thrash/internal/deadline"
)

var errSkip = errors.New("not a device")

// exercise runs the guarded probe sequence against path up to loops times.
// An exceeded budget abandons the device for the remaining loops.
func (w *walker) exercise(path string, loops int) {
	for i := 0; i < loops; i++ {
		if !w.running() {
			return
		}
		err := w.probeOnce(path)
		if errors.Is(err, deadline.ErrExceeded) {
			w.timeout()
			return
		}
	}
}

func (w *walker) probeOnce(path string) error {
	budget := w.guard.Begin()

	fd := -1
	err := budget.Do(func() error {
		var err error
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
		return err
	})
	if err != nil {
		if errors.Is(err, deadline.ErrExceeded) {
			if fd >= 0 {
				unix.Close(fd)
			}
			return err
		}
		if errors.Is(err, syscall.EINTR) {
			return nil
		}
		w.openWriteOnly(path)
		return nil
	}

	err = w.readOnlyProbes(budget, fd, path)
	unix.Close(fd)
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return err
	}

	err = budget.Do(func() error { return w.writeProbes(path) })
	if errors.Is(err, deadline.ErrExceeded) {
		return err
	}
	w.openWriteOnly(path)
	return nil
}

func (w *walker) readOnlyProbes(budget *deadline.Budget, fd int, path string) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		w.logger.Debug("fstat failed", "path", path, "error", err)
	} else {
		switch st.Mode & unix.S_IFMT {
		case unix.S_IFBLK:
			probeBlock(fd)
			w.probeSCSI(fd, path)
		case unix.S_IFCHR:
			if !strings.HasPrefix(path, w.opts.Root+"/vsock") && !strings.HasPrefix(path, w.opts.Root+"/dri") {
				probeTTY(fd)
			}
		default:
			return errSkip
		}
	}

	steps := []func() error{
		func() error {
			_, _ = unix.Seek(fd, 0, unix.SEEK_SET)
			_, _ = unix.Seek(fd, 0, unix.SEEK_CUR)
			_, _ = unix.Seek(fd, 0, unix.SEEK_END)
			return nil
		},
		func() error {
			_, _ = unix.Poll([]unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}, 0)
			return nil
		},
		func() error {
			var rfds, wfds unix.FdSet
			rfds.Set(fd)
			wfds.Set(fd)
			tv := unix.Timeval{Usec: 10000}
			_, _ = unix.Select(fd+1, &rfds, &wfds, nil, &tv)
			return nil
		},
		func() error { _, _ = unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); return nil },
		func() error { _, _ = unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); return nil },
		func() error { _, _ = unix.FcntlInt(uintptr(fd), unix.F_GETSIG, 0); return nil },
		func() error {
			mapPage(fd, w.pageSize, unix.PROT_READ, unix.MAP_PRIVATE)
			mapPage(fd, w.pageSize, unix.PROT_READ, unix.MAP_SHARED)
			return nil
		},
	}
	for _, step := range steps {
		if err := budget.Do(step); err != nil {
			return err
		}
	}
	return nil
}

// writeProbes reopens the device for write-protection mmap checks, fsync
// and the path-specific probes.
func (w *walker) writeProbes(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil
	}
	defer unix.Close(fd)

	mapPage(fd, w.pageSize, unix.PROT_WRITE, unix.MAP_PRIVATE)
	mapPage(fd, w.pageSize, unix.PROT_WRITE, unix.MAP_SHARED)
	_ = unix.Fsync(fd)

	for _, p := range probesFor(strings.TrimPrefix(path, w.opts.Root+"/")) {
		p.probe(fd, w.pageSize)
	}
	return nil
}

// openWriteOnly opens and immediately closes the device in write mode,
// which many drivers allow for ioctl-only access.
func (w *walker) openWriteOnly(path string) {
	if fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		unix.Close(fd)
	}
}

func mapPage(fd, size, prot, flags int) {
	mem, err := unix.Mmap(fd, 0, size, prot, flags)
	if err == nil {
		_ = unix.Munmap(mem)
	}
}
