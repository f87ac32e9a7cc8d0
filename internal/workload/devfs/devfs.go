// Package devfs walks a device tree and exercises every block and character
// device it finds with a bounded series of read-only system calls.
//
// Device operations can block indefinitely inside the kernel. Every exercised
// device runs under a deadline.Budget; once the budget is exceeded the device
// is abandoned and the walk moves on. A call already blocked is not
// interrupted.
package devfs

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/Paintersrp/thrash/internal/clock"
	"github.com/Paintersrp/thrash/internal/deadline"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/visited"
	"github.com/Paintersrp/thrash/internal/workload"
)

// Name is the registered stressor name.
const Name = "dev"

// Options configures traversal bounds and the helper pool.
type Options struct {
	Root  string `json:"root"`
	Sysfs string `json:"sysfs"`
	// Threads is the number of helper goroutines hammering the device the
	// walker last selected.
	Threads int `json:"threads"`
	// MaxDepth bounds directory recursion below Root.
	MaxDepth int `json:"maxDepth"`
	// SiblingLimit skips entries whose numeric suffix is greater than it,
	// so only the first few devices of each driver are exercised.
	SiblingLimit int           `json:"siblingLimit"`
	Threshold    time.Duration `json:"threshold"`
	OpenTimeout  time.Duration `json:"openTimeout"`
	Buckets      int           `json:"buckets"`
}

// DefaultOptions returns the traversal defaults.
func DefaultOptions() Options {
	return Options{
		Root:         "/dev",
		Sysfs:        "/sys",
		Threads:      4,
		MaxDepth:     20,
		SiblingLimit: 2,
		Threshold:    deadline.DefaultThreshold,
		OpenTimeout:  1500 * time.Millisecond,
		Buckets:      visited.DefaultBuckets,
	}
}

func init() {
	workload.Register(workload.Stressor{
		Name:  Name,
		Help:  "walk the device tree and exercise block and character devices",
		Kinds: []string{"devices exercised per sec"},
		Open:  Open,
	})
}

// Open prepares a walker for one worker and starts its helper pool.
func Open(env workload.Env) (*workload.Set, error) {
	opts := DefaultOptions()
	if err := env.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	w := newWalker(opts, env)
	w.start()
	return &workload.Set{
		Workloads: []workload.Workload{w},
		Closer: func() error {
			w.stop()
			return nil
		},
	}, nil
}

type walker struct {
	opts     Options
	euid     int
	salt     uint32
	loops    int
	pageSize int
	cache    *visited.Cache
	scsi     *visited.Cache
	guard    deadline.Guard
	logger   *slog.Logger
	running  func() bool
	timeout  func()

	mu     sync.Mutex
	cursor string

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

func newWalker(opts Options, env workload.Env) *walker {
	defaults := DefaultOptions()
	if opts.Root == "" {
		opts.Root = defaults.Root
	}
	if opts.Sysfs == "" {
		opts.Sysfs = defaults.Sysfs
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaults.MaxDepth
	}
	if opts.SiblingLimit < 0 {
		opts.SiblingLimit = defaults.SiblingLimit
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaults.OpenTimeout
	}

	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loops := env.Ordinal + 1
	if loops > 8 {
		loops = 8
	}
	w := &walker{
		opts:     opts,
		euid:     os.Geteuid(),
		salt:     rand.Uint32(),
		loops:    loops,
		pageSize: os.Getpagesize(),
		cache:    visited.New(opts.Buckets),
		scsi:     visited.New(opts.Buckets),
		guard:    deadline.Guard{Threshold: opts.Threshold, Clock: clock.Real()},
		logger:   logger,
		running:  func() bool { return true },
		timeout:  func() {},
		cursor:   opts.Root + "/null",
		done:     make(chan struct{}),
	}
	if env.Region != nil {
		w.running = env.Region.Running
		slot := env.Slot
		w.timeout = slot.AddTimeout
	}
	return w
}

// Run walks the tree once and counts the devices exercised.
func (w *walker) Run(ctx context.Context, m *shm.Metric) error {
	start := time.Now()
	stats := w.walk(ctx)
	m.Add(time.Since(start).Seconds(), float64(stats.devices))
	return nil
}

func (w *walker) setCursor(path string) {
	w.mu.Lock()
	w.cursor = path
	w.mu.Unlock()
}

func (w *walker) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// start launches helpers that keep exercising whatever device the walker
// selected last.
func (w *walker) start() {
	for i := 0; i < w.opts.Threads; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-w.done:
					return
				default:
				}
				path := w.current()
				if path == "" || !w.running() {
					return
				}
				w.exercise(path, 1)
			}
		}()
	}
}

func (w *walker) stop() {
	w.once.Do(func() {
		w.setCursor("")
		close(w.done)
	})
	w.wg.Wait()
}
