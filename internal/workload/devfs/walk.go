package devfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Paintersrp/thrash/internal/visited"
)

// worthyBits are the group/other read and write bits. Directories without
// any of them are not worth descending into.
const worthyBits = 0o066

type walkStats struct {
	dirs    int
	devices int
}

type pending struct {
	path  string
	depth int
}

// walk traverses Root with an explicit stack, bounded by MaxDepth.
func (w *walker) walk(ctx context.Context) walkStats {
	var stats walkStats
	stack := []pending{{path: w.opts.Root}}

	for len(stack) > 0 {
		if ctx.Err() != nil || !w.running() {
			return stats
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir.path)
		if err != nil {
			continue
		}
		stats.dirs++
		w.mixup(entries)

		// Collected in mixed order, pushed in reverse so they pop in order.
		var subdirs []pending
		for _, entry := range entries {
			if ctx.Err() != nil || !w.running() {
				return stats
			}
			name := entry.Name()
			if w.skipName(name) {
				continue
			}
			path := filepath.Join(dir.path, name)

			switch {
			case entry.IsDir():
				if dir.depth+1 > w.opts.MaxDepth {
					continue
				}
				if _, known := w.cache.Lookup(path); known {
					continue
				}
				info, err := os.Stat(path)
				if err != nil || info.Mode().Perm()&worthyBits == 0 {
					w.cache.Insert(path, visited.NotWorthy)
					continue
				}
				subdirs = append(subdirs, pending{path: path, depth: dir.depth + 1})
			case entry.Type()&fs.ModeDevice != 0:
				if _, known := w.cache.Lookup(path); known {
					continue
				}
				if strings.Contains(path, "watchdog") {
					w.cache.Insert(path, visited.NotWorthy)
					continue
				}
				if err := tryOpen(path, w.opts.OpenTimeout); err != nil {
					class := visited.NotWorthy
					if errors.Is(err, errHung) {
						class = visited.Hung
					}
					w.cache.Insert(path, class)
					continue
				}
				w.setCursor(path)
				w.exercise(path, w.loops)
				stats.devices++
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return stats
}

func (w *walker) skipName(name string) bool {
	if name == "." || name == ".." {
		return true
	}
	// Opening the HPET as root hangs some virtualized hosts.
	if w.euid == 0 && name == "hpet" {
		return true
	}
	return siblingIndex(name) > w.opts.SiblingLimit
}

// siblingIndex returns the trailing decimal suffix of name, or -1 when there
// is none. Single-character names have no suffix.
func siblingIndex(name string) int {
	if len(name) <= 1 {
		return -1
	}
	i := len(name)
	for i > 1 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return -1
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return n
}

// mixup orders entries by a salted PJW hash of their names so concurrent
// workers visit devices in different orders.
func (w *walker) mixup(entries []os.DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return pjw(entries[i].Name())^w.salt < pjw(entries[j].Name())^w.salt
	})
}

func pjw(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = (h << 4) + uint32(s[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h ^= g
		}
	}
	return h
}
