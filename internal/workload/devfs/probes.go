package devfs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/thrash/internal/visited"
)

// SCSI generic, VT and CD-ROM ioctls not exported by x/sys/unix.
const (
	sgGetVersionNum       = 0x2282
	scsiIoctlGetBusNumber = 0x5386

	vtGetMode  = 0x5601
	vtGetState = 0x5603

	cdromReadTOCHdr       = 0x5305
	cdromGetMCN           = 0x5311
	cdromDriveStatus      = 0x5326
	cdromGetCapability    = 0x5331
	cdromSlotNone         = 0x7fffffff
	mediaDeviceInfoSize   = 256
	v4l2CapabilitySize    = 104
)

// Generic Linux ioctl request encoding.
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uint {
	return uint(dir<<30 | size<<16 | typ<<8 | nr)
}

// hpetInfo mirrors struct hpet_info.
type hpetInfo struct {
	freq  uintptr
	flags uintptr
	hpet  uint16
	timer uint16
}

var (
	mediaIocDeviceInfo = ioc(iocRead|iocWrite, '|', 0x00, mediaDeviceInfoSize)
	vidiocQueryCap     = ioc(iocRead, 'V', 0x00, v4l2CapabilitySize)
	hpetInfoReq        = ioc(iocRead, 'h', 0x03, unsafe.Sizeof(hpetInfo{}))
)

type prefixProbe struct {
	prefix string
	probe  func(fd, pageSize int)
}

// prefixProbes run after the generic sequence for paths, relative to the
// walk root, that start with prefix. Every matching entry runs.
var prefixProbes = []prefixProbe{
	{"random", probeRandom},
	{"urandom", probeRandom},
	{"mem", probeMemory},
	{"kmem", probeMemory},
	{"kmsg", probeMemory},
	{"nvram", probeMemory},
	{"console", func(fd, _ int) { probeTTY(fd) }},
	{"null", func(int, int) {}},
	{"media", func(fd, _ int) { ioctlBuf(fd, mediaIocDeviceInfo, make([]byte, mediaDeviceInfoSize)) }},
	{"vcs", probeVCS},
	{"dm", probeDM},
	{"video", func(fd, _ int) { ioctlBuf(fd, vidiocQueryCap, make([]byte, v4l2CapabilitySize)) }},
	{"cdrom", probeCDROM},
	{"sr0", probeCDROM},
	{"port", probePort},
	{"hpet", probeHPET},
	{"ptp", probePTP},
}

// probesFor returns the prefix probes matching rel, in table order.
func probesFor(rel string) []prefixProbe {
	var out []prefixProbe
	for _, p := range prefixProbes {
		if strings.HasPrefix(rel, p.prefix) {
			out = append(out, p)
		}
	}
	return out
}

// ioctlBuf issues req with buf as the argument. Results are ignored.
func ioctlBuf(fd int, req uint, buf []byte) {
	if len(buf) == 0 {
		return
	}
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&buf[0])))
}

func probeVCS(fd, _ int) {
	ioctlBuf(fd, vtGetMode, make([]byte, 16))
	ioctlBuf(fd, vtGetState, make([]byte, 16))
}

func probeDM(fd, _ int) {
	for _, req := range []uint{unix.DM_VERSION, unix.DM_DEV_STATUS} {
		dm := unix.DmIoctl{Version: [3]uint32{4, 0, 0}, Data_size: unix.SizeofDmIoctl}
		_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&dm)))
	}
}

func probeCDROM(fd, _ int) {
	ioctlBuf(fd, cdromGetMCN, make([]byte, 32))
	ioctlBuf(fd, cdromReadTOCHdr, make([]byte, 8))
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cdromDriveStatus, cdromSlotNone)
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cdromGetCapability, 0)
}

// probePort reads I/O port 0x80 and tries a mapping the driver refuses.
// Only x86 has an I/O port space.
func probePort(fd, pageSize int) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "386" {
		return
	}
	if off, err := unix.Seek(fd, 0x80, unix.SEEK_SET); err == nil && off == 0x80 {
		_, _ = unix.Read(fd, make([]byte, 1))
	}
	mapPage(fd, pageSize, unix.PROT_READ, unix.MAP_PRIVATE)
}

func probeHPET(fd, _ int) {
	var info hpetInfo
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(hpetInfoReq), uintptr(unsafe.Pointer(&info)))
}

func probePTP(fd, _ int) {
	caps, err := unix.IoctlPtpClockGetcaps(fd)
	if err != nil {
		return
	}
	for i := 0; i < int(caps.N_pins); i++ {
		_, _ = unix.IoctlPtpPinGetfunc(fd, uint(i))
	}
}

func probeRandom(fd, _ int) {
	_, _ = unix.IoctlGetInt(fd, unix.RNDGETENTCNT)
}

func probeMemory(fd, pageSize int) {
	mapPage(fd, pageSize, unix.PROT_READ, unix.MAP_PRIVATE)
	if off, err := unix.Seek(fd, 0, unix.SEEK_SET); err == nil && off == 0 {
		buf := make([]byte, pageSize)
		_, _ = unix.Read(fd, buf)
	}
	mapPage(fd, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
}

var blockIoctls = []uint{
	unix.BLKRAGET,
	unix.BLKROGET,
	unix.BLKBSZGET,
	unix.BLKPBSZGET,
	unix.BLKSSZGET,
	unix.BLKIOMIN,
	unix.BLKIOOPT,
	unix.BLKALIGNOFF,
	unix.BLKSECTGET,
}

func probeBlock(fd int) {
	for _, req := range blockIoctls {
		_, _ = unix.IoctlGetInt(fd, req)
	}
	var size uint64
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	_, _ = unix.Seek(fd, 0, unix.SEEK_END)
}

var ttyIoctls = []uint{
	unix.TIOCINQ,
	unix.TIOCOUTQ,
	unix.TIOCGPGRP,
	unix.TIOCGSID,
	unix.TIOCGEXCL,
	unix.TIOCGETD,
	unix.TIOCMGET,
}

func probeTTY(fd int) {
	if _, err := unix.IoctlGetTermios(fd, unix.TCGETS); err != nil {
		return
	}
	_, _ = unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	for _, req := range ttyIoctls {
		_, _ = unix.IoctlGetInt(fd, req)
	}
}

// probeSCSI issues SCSI generic ioctls when path is backed by a SCSI target.
func (w *walker) probeSCSI(fd int, path string) {
	if !w.isSCSI(path) {
		return
	}
	_, _ = unix.IoctlGetInt(fd, sgGetVersionNum)
	_, _ = unix.IoctlGetInt(fd, scsiIoctlGetBusNumber)
}

// isSCSI reports whether path names a block device listed under
// class/scsi_device/*/device/block in sysfs. Results are memoized.
func (w *walker) isSCSI(path string) bool {
	if class, ok := w.scsi.Lookup(path); ok {
		return class == visited.SCSI
	}
	name := filepath.Base(path)
	found := false
	devices, _ := os.ReadDir(filepath.Join(w.opts.Sysfs, "class", "scsi_device"))
	for _, dev := range devices {
		if dev.Name()[0] == '.' {
			continue
		}
		blocks, _ := os.ReadDir(filepath.Join(w.opts.Sysfs, "class", "scsi_device", dev.Name(), "device", "block"))
		for _, b := range blocks {
			if b.Name() == name {
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if found {
		w.scsi.Insert(path, visited.SCSI)
	} else {
		w.scsi.Insert(path, visited.NotSCSI)
	}
	return found
}

// errHung reports an open that did not return within the try-open timeout.
var errHung = errors.New("open timed out")

// tryOpen opens and closes path, giving up after timeout. A hung open leaves
// its goroutine blocked in the kernel until the open returns; the descriptor
// is closed then.
func tryOpen(path string, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			unix.Close(fd)
		}
		result <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errHung
	}
}
