package resources

import "testing"

func TestParseMemory(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"128M":  128 * 1024 * 1024,
		"512Mi": 512 * 1024 * 1024,
		"2MiB":  2 * 1024 * 1024,
		"1g":    1024 * 1024 * 1024,
	}
	for input, want := range cases {
		got, err := ParseMemory(input)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", input, err)
		}
		if got != want {
			t.Fatalf("%q: expected %d, got %d", input, want, got)
		}
	}
}

func TestParseMemoryRejectsGarbage(t *testing.T) {
	if _, err := ParseMemory("lots"); err == nil {
		t.Fatalf("expected error for invalid quantity")
	}
}

func TestCPUMax(t *testing.T) {
	cases := map[string]string{
		"":     "max 100000",
		"0.5":  "50000 100000",
		"250m": "25000 100000",
		"2":    "200000 100000",
	}
	for input, want := range cases {
		got, err := CPUMax(input)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", input, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", input, want, got)
		}
	}
}

func TestParseCPURejectsNegative(t *testing.T) {
	if _, err := ParseCPU("-1"); err == nil {
		t.Fatalf("expected error for negative cpu")
	}
}

func TestHumanSize(t *testing.T) {
	if got := HumanSize(64 << 20); got != "64MiB" {
		t.Fatalf("expected 64MiB, got %q", got)
	}
}
