// Package shm implements the shared metrics region: a memfd-backed
// MAP_SHARED mapping split into fixed per-worker slots.
//
// The supervisor allocates the region once before starting workers and hands
// its file descriptor to each child. A worker writes only the slot matching its
// ordinal. Metric fields are plain float64 writes and may only be read by the
// supervisor after every writer has been reaped. Counters read while workers
// are live (bogo ops, timeouts, the continue flag) use atomic access.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNoResource reports that the region could not be created or mapped.
var ErrNoResource = errors.New("shared metrics region unavailable")

const (
	magic = 0x74687261736d6d31 // "thrasmm1"

	headerSize  = 64
	lineSize    = 64
	slotHeader  = 24
	metricSize  = 16
	scratchSize = ScratchWords * 8

	offMagic    = 0
	offSlots    = 8
	offKinds    = 12
	offContinue = 16
)

// ScratchWords is the number of shared 64-bit words available to workloads
// that stress shared memory directly.
const ScratchWords = 64

// Metric accumulates elapsed seconds and completed operations for one
// workload kind.
type Metric struct {
	Duration float64
	Count    float64
}

// Add accumulates one timed batch.
func (m *Metric) Add(seconds, ops float64) {
	m.Duration += seconds
	m.Count += ops
}

// Region is a mapped shared metrics region.
type Region struct {
	file   *os.File
	mem    []byte
	slots  int
	kinds  int
	stride int
}

func slotStride(kinds int) int {
	n := slotHeader + kinds*metricSize
	return (n + lineSize - 1) / lineSize * lineSize
}

func regionSize(slots, kinds int) int {
	return headerSize + slots*slotStride(kinds) + scratchSize
}

// Allocate creates a zeroed region with the given number of slots and
// metric kinds per slot. The continue flag starts set.
func Allocate(slots, kinds int) (*Region, error) {
	if slots <= 0 || kinds <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry %d slots x %d kinds", ErrNoResource, slots, kinds)
	}
	fd, err := unix.MemfdCreate("thrash-metrics", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: memfd_create: %w", ErrNoResource, err)
	}
	size := regionSize(slots, kinds)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate %d bytes: %w", ErrNoResource, size, err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap: %w", ErrNoResource, err)
	}

	binary.LittleEndian.PutUint64(mem[offMagic:], magic)
	binary.LittleEndian.PutUint32(mem[offSlots:], uint32(slots))
	binary.LittleEndian.PutUint32(mem[offKinds:], uint32(kinds))

	r := &Region{
		file:   os.NewFile(uintptr(fd), "thrash-metrics"),
		mem:    mem,
		slots:  slots,
		kinds:  kinds,
		stride: slotStride(kinds),
	}
	r.Continue()
	return r, nil
}

// Open maps a region inherited from the supervisor. The geometry is read
// from the region header.
func Open(f *os.File) (*Region, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &stat); err != nil {
		return nil, fmt.Errorf("stat region: %w", err)
	}
	if stat.Size < headerSize {
		return nil, fmt.Errorf("region too small: %d bytes", stat.Size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map region: %w", err)
	}
	if got := binary.LittleEndian.Uint64(mem[offMagic:]); got != magic {
		unix.Munmap(mem)
		return nil, fmt.Errorf("region magic mismatch: %#x", got)
	}
	slots := int(binary.LittleEndian.Uint32(mem[offSlots:]))
	kinds := int(binary.LittleEndian.Uint32(mem[offKinds:]))
	if want := regionSize(slots, kinds); int(stat.Size) < want {
		unix.Munmap(mem)
		return nil, fmt.Errorf("region truncated: %d bytes, want %d", stat.Size, want)
	}
	return &Region{file: f, mem: mem, slots: slots, kinds: kinds, stride: slotStride(kinds)}, nil
}

// Slots returns the number of slots.
func (r *Region) Slots() int { return r.slots }

// Kinds returns the number of metric kinds per slot.
func (r *Region) Kinds() int { return r.kinds }

// File returns the backing memfd for handing to child processes.
func (r *Region) File() *os.File { return r.file }

func (r *Region) word32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Running reports whether the continue flag is set.
func (r *Region) Running() bool {
	return atomic.LoadUint32(r.word32(offContinue)) == 1
}

// Stop clears the continue flag. Workers stop before their next full pass.
func (r *Region) Stop() { atomic.StoreUint32(r.word32(offContinue), 0) }

// Continue sets the continue flag.
func (r *Region) Continue() { atomic.StoreUint32(r.word32(offContinue), 1) }

// Slot returns the slot for ordinal. It panics if ordinal is out of range.
func (r *Region) Slot(ordinal int) Slot {
	if ordinal < 0 || ordinal >= r.slots {
		panic(fmt.Sprintf("shm: slot %d out of range [0,%d)", ordinal, r.slots))
	}
	off := headerSize + ordinal*r.stride
	return Slot{base: unsafe.Pointer(&r.mem[off]), kinds: r.kinds}
}

// Word returns scratch word i for atomic workloads.
func (r *Region) Word(i int) *uint64 {
	if i < 0 || i >= ScratchWords {
		panic(fmt.Sprintf("shm: scratch word %d out of range [0,%d)", i, ScratchWords))
	}
	off := headerSize + r.slots*r.stride + i*8
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

// BogoOps sums the bogo counters of every slot. Safe while workers run.
func (r *Region) BogoOps() uint64 {
	var total uint64
	for i := 0; i < r.slots; i++ {
		total += r.Slot(i).Bogo()
	}
	return total
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	var firstErr error
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			firstErr = fmt.Errorf("unmap region: %w", err)
		}
		r.mem = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close region: %w", err)
		}
		r.file = nil
	}
	return firstErr
}

// Slot is one worker's view into the region.
type Slot struct {
	base  unsafe.Pointer
	kinds int
}

func (s Slot) field(off uintptr) unsafe.Pointer {
	return unsafe.Add(s.base, off)
}

// Metric returns the accumulator for kind. It panics if kind is out of range.
func (s Slot) Metric(kind int) *Metric {
	if kind < 0 || kind >= s.kinds {
		panic(fmt.Sprintf("shm: kind %d out of range [0,%d)", kind, s.kinds))
	}
	return (*Metric)(s.field(uintptr(slotHeader + kind*metricSize)))
}

// Kinds returns the number of metrics in the slot.
func (s Slot) Kinds() int { return s.kinds }

// SetPid records the owning process id.
func (s Slot) SetPid(pid int) { atomic.StoreInt64((*int64)(s.field(0)), int64(pid)) }

// Pid returns the last recorded owner.
func (s Slot) Pid() int { return int(atomic.LoadInt64((*int64)(s.field(0)))) }

// AddBogo adds n completed passes.
func (s Slot) AddBogo(n uint64) { atomic.AddUint64((*uint64)(s.field(8)), n) }

// Bogo returns the completed pass count.
func (s Slot) Bogo() uint64 { return atomic.LoadUint64((*uint64)(s.field(8))) }

// AddTimeout counts one abandoned unit of work.
func (s Slot) AddTimeout() { atomic.AddUint64((*uint64)(s.field(16)), 1) }

// Timeouts returns the abandoned unit count.
func (s Slot) Timeouts() uint64 { return atomic.LoadUint64((*uint64)(s.field(16))) }
