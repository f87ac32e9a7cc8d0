// Package atomic stresses the CPU's atomic memory operations on words in the
// shared region, so every worker contends on the same cache lines.
package atomic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

// Name is the registered stressor name.
const Name = "atomic"

// OpsPerCall is the number of atomic operations counted for one sequence.
const OpsPerCall = 64

// DefaultRounds is the number of sequences per kind in one pass.
const DefaultRounds = 1000

// wordsPerKind is the number of scratch words each kind rotates through.
const wordsPerKind = 8

// Options configures the stressor.
type Options struct {
	Rounds int `json:"rounds"`
}

// Kinds labels the metric kinds in slot order.
var Kinds = []string{
	"uint64 atomic ops per sec",
	"uint32 atomic ops per sec",
	"uint16 atomic ops per sec",
	"uint8 atomic ops per sec",
}

func init() {
	workload.Register(workload.Stressor{
		Name:  Name,
		Help:  "exercise atomic load, store, add, and, or, xor, nand and clear on shared words",
		Kinds: Kinds,
		Open:  Open,
	})
}

// Open builds one workload per integer width over the region scratch words.
func Open(env workload.Env) (*workload.Set, error) {
	opts := Options{Rounds: DefaultRounds}
	if err := env.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultRounds
	}
	if env.Region == nil {
		return nil, fmt.Errorf("atomic: region required")
	}
	// Narrow kinds spread over the lanes of their words so neighbouring lanes
	// contend on the same 32-bit word.
	words := func(kind int, size uintptr) []unsafe.Pointer {
		out := make([]unsafe.Pointer, wordsPerKind)
		for i := range out {
			lane := uintptr(i) % (8 / size) * size
			out[i] = unsafe.Add(unsafe.Pointer(env.Region.Word(kind*wordsPerKind+i)), lane)
		}
		return out
	}

	return &workload.Set{Workloads: []workload.Workload{
		newExerciser(opts.Rounds, words(0, 8), ops[uint64]{
			load: atomic.LoadUint64, store: atomic.StoreUint64, add: atomic.AddUint64,
			and: atomic.AndUint64, or: atomic.OrUint64, cas: atomic.CompareAndSwapUint64,
		}),
		newExerciser(opts.Rounds, words(1, 4), ops[uint32]{
			load: atomic.LoadUint32, store: atomic.StoreUint32, add: atomic.AddUint32,
			and: atomic.AndUint32, or: atomic.OrUint32, cas: atomic.CompareAndSwapUint32,
		}),
		newExerciser(opts.Rounds, words(2, 2), laneOps[uint16]()),
		newExerciser(opts.Rounds, words(3, 1), laneOps[uint8]()),
	}}, nil
}

type integer interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type ops[T integer] struct {
	load  func(*T) T
	store func(*T, T)
	add   func(*T, T) T
	and   func(*T, T) T
	or    func(*T, T) T
	cas   func(*T, T, T) bool
}

func (o ops[T]) xor(p *T, v T) {
	for {
		old := o.load(p)
		if o.cas(p, old, old^v) {
			return
		}
	}
}

func (o ops[T]) nand(p *T, v T) {
	for {
		old := o.load(p)
		if o.cas(p, old, ^(old & v)) {
			return
		}
	}
}

func (o ops[T]) sub(p *T, v T) { o.add(p, -v) }

type exerciser[T integer] struct {
	rounds  int
	words   []*T
	private *T
	next    int
	ops     ops[T]
}

func newExerciser[T integer](rounds int, words []unsafe.Pointer, o ops[T]) *exerciser[T] {
	// The private word sits at the start of an aligned 64-bit allocation so
	// lane emulation never reaches outside it.
	e := &exerciser[T]{rounds: rounds, ops: o, private: (*T)(unsafe.Pointer(new(uint64)))}
	for _, w := range words {
		e.words = append(e.words, (*T)(w))
	}
	return e
}

// Run performs rounds sequences, rotating over the shared words.
func (e *exerciser[T]) Run(ctx context.Context, m *shm.Metric) error {
	for i := 0; i < e.rounds; i++ {
		start := time.Now()
		err := e.sequence(e.words[e.next])
		m.Add(time.Since(start).Seconds(), OpsPerCall)
		if err != nil {
			return err
		}
		e.next = (e.next + 1) % len(e.words)
	}
	return nil
}

// sequence runs one block of atomic operations on p after verifying the
// store/add/sub/load path on a private word.
func (e *exerciser[T]) sequence(p *T) error {
	o := e.ops
	tmp := T(rand.Uint64())

	unshared := e.private
	check1 := tmp
	o.store(unshared, check1)
	o.add(unshared, 2)
	o.sub(unshared, 1)
	check2 := o.load(unshared)

	for _, acquire := range []bool{false, true} {
		o.store(p, tmp)
		tmp = o.load(p)
		o.add(p, 1)
		o.add(p, 2)
		o.sub(p, 3)
		o.sub(p, 4)
		o.and(p, ^T(1))
		o.and(p, ^T(2))
		o.xor(p, ^T(4))
		o.xor(p, ^T(8))
		o.or(p, 16)
		o.or(p, 32)
		o.nand(p, 64)
		o.nand(p, 128)
		o.store(p, 0)

		o.store(p, tmp)
		o.add(p, 1)
		o.sub(p, 3)
		o.and(p, ^T(1))
		o.xor(p, ^T(4))
		o.or(p, 16)
		o.nand(p, 64)
		if acquire {
			tmp = o.load(p)
		}
		o.add(p, 2)
		o.sub(p, 4)
		o.and(p, ^T(2))
		o.xor(p, ^T(8))
		o.or(p, 32)
		o.nand(p, 128)
		o.store(p, 0)
	}

	check2--
	if check2 != check1 {
		return fmt.Errorf("%w: store/add/sub/load got %#x, expected %#x",
			workload.ErrVerificationMismatch, uint64(check2), uint64(check1))
	}
	return nil
}

// Go has no 8 or 16 bit atomics; narrow kinds run every operation as a CAS
// loop on the aligned 32-bit word holding the lane.

type narrow interface {
	~uint8 | ~uint16
}

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// lane returns the 32-bit word containing p and the bit shift of p within it.
func lane[T narrow](p *T) (*uint32, uint) {
	off := uintptr(unsafe.Pointer(p)) & 3
	word := (*uint32)(unsafe.Add(unsafe.Pointer(p), -int(off)))
	if littleEndian {
		return word, uint(off * 8)
	}
	return word, uint((4 - off - unsafe.Sizeof(*p)) * 8)
}

func laneUpdate[T narrow](p *T, fn func(T) T) T {
	word, shift := lane(p)
	mask := uint32(^T(0)) << shift
	for {
		w := atomic.LoadUint32(word)
		v := fn(T(w >> shift))
		if atomic.CompareAndSwapUint32(word, w, w&^mask|uint32(v)<<shift) {
			return v
		}
	}
}

func laneOps[T narrow]() ops[T] {
	return ops[T]{
		load: func(p *T) T {
			word, shift := lane(p)
			return T(atomic.LoadUint32(word) >> shift)
		},
		store: func(p *T, v T) { laneUpdate(p, func(T) T { return v }) },
		add:   func(p *T, v T) T { return laneUpdate(p, func(old T) T { return old + v }) },
		and:   func(p *T, v T) T { return laneUpdate(p, func(old T) T { return old & v }) },
		or:    func(p *T, v T) T { return laneUpdate(p, func(old T) T { return old | v }) },
		cas: func(p *T, old, new T) bool {
			word, shift := lane(p)
			mask := uint32(^T(0)) << shift
			for {
				w := atomic.LoadUint32(word)
				if T(w>>shift) != old {
					return false
				}
				if atomic.CompareAndSwapUint32(word, w, w&^mask|uint32(new)<<shift) {
					return true
				}
			}
		},
	}
}
