package visited

import (
	"fmt"
	"sync"
	"testing"
)

func TestInsertIsIdempotent(t *testing.T) {
	c := New(0)
	for i := 0; i < 5; i++ {
		c.Insert("/dev/sda", SCSI)
	}
	class, ok := c.Lookup("/dev/sda")
	if !ok || class != SCSI {
		t.Fatalf("expected scsi, got %v (found=%t)", class, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", c.Len())
	}
}

func TestLookupMissing(t *testing.T) {
	c := New(7)
	if _, ok := c.Lookup("/dev/null"); ok {
		t.Fatalf("expected missing entry")
	}
}

func TestLastWriteWins(t *testing.T) {
	c := New(1)
	c.Insert("/dev/tty0", NotWorthy)
	c.Insert("/dev/tty0", Hung)
	if class, _ := c.Lookup("/dev/tty0"); class != Hung {
		t.Fatalf("expected hung, got %v", class)
	}
}

func TestChainingKeepsCollidingEntries(t *testing.T) {
	c := New(1)
	for i := 0; i < 20; i++ {
		c.Insert(fmt.Sprintf("/dev/loop%d", i), NotWorthy)
	}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("/dev/loop%d", i)
		if class, ok := c.Lookup(id); !ok || class != NotWorthy {
			t.Fatalf("expected %s to be not-worthy, got %v (found=%t)", id, class, ok)
		}
	}
}

func TestConcurrentInsertsSameID(t *testing.T) {
	c := New(0)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Insert("/dev/sg0", SCSI)
				if class, ok := c.Lookup("/dev/sg0"); !ok || class != SCSI {
					t.Errorf("expected scsi, got %v (found=%t)", class, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", c.Len())
	}
}
