// Package resources parses the resource quantities written into cgroup
// control files.
package resources

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// CPUPeriod is the cpu.max period in microseconds.
const CPUPeriod = 100_000

// ParseCPU converts a textual CPU quantity into fractional cores. Supported
// formats are core counts ("0.5") and millicores ("500m").
func ParseCPU(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	var cores float64
	var err error
	if strings.HasSuffix(trimmed, "m") {
		milli := strings.TrimSpace(trimmed[:len(trimmed)-1])
		if milli == "" {
			return 0, fmt.Errorf("invalid cpu quantity %q", value)
		}
		var milliVal float64
		milliVal, err = strconv.ParseFloat(milli, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", value, err)
		}
		cores = milliVal / 1000.0
	} else {
		cores, err = strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", value, err)
		}
	}
	if cores <= 0 || math.IsInf(cores, 0) || math.IsNaN(cores) {
		return 0, fmt.Errorf("invalid cpu quantity %q: must be positive", value)
	}
	return cores, nil
}

// CPUMax renders a CPU quantity as a cgroup v2 cpu.max line
// ("<quota> <period>"). An empty value yields "max".
func CPUMax(value string) (string, error) {
	cores, err := ParseCPU(value)
	if err != nil {
		return "", err
	}
	if cores == 0 {
		return fmt.Sprintf("max %d", CPUPeriod), nil
	}
	quota := int64(math.Round(cores * CPUPeriod))
	if quota < 1000 {
		quota = 1000
	}
	return fmt.Sprintf("%d %d", quota, CPUPeriod), nil
}

// ParseMemory converts textual memory quantities like "512Mi" or "128M" into
// bytes.
func ParseMemory(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, "kib"), strings.HasSuffix(lower, "mib"), strings.HasSuffix(lower, "gib"), strings.HasSuffix(lower, "tib"), strings.HasSuffix(lower, "pib"), strings.HasSuffix(lower, "eib"):
	case strings.HasSuffix(lower, "ki"), strings.HasSuffix(lower, "mi"), strings.HasSuffix(lower, "gi"), strings.HasSuffix(lower, "ti"), strings.HasSuffix(lower, "pi"), strings.HasSuffix(lower, "ei"):
		trimmed += "B"
	}
	bytes, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", value, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("invalid memory quantity %q: must be positive", value)
	}
	return bytes, nil
}

// HumanSize formats a byte count for log and report output.
func HumanSize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}
