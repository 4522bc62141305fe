package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// DefaultRatio is the share of the container limit given to the Go heap.
// The rest is left for SQLite page cache and goroutine stacks.
const DefaultRatio = 0.85

// Result reports what Configure did.
type Result struct {
	Configured bool
	// Source is "GOMEMLIMIT", "config" or "none".
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// Configure sets the Go soft memory limit to ratio × limitBytes. An
// explicit GOMEMLIMIT in the environment wins, and a zero limit leaves
// the runtime default alone. Call it early in main.
func Configure(limitBytes int64, ratio float64) Result {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := Result{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if limitBytes <= 0 {
		logging.Debug("memory.limit not set, GOMEMLIMIT will not be configured")
		return Result{Source: "none"}
	}

	if ratio <= 0 || ratio > 1 {
		if ratio != 0 {
			logging.Warn("memory.ratio %.2f out of range (0.0-1.0], using default %.2f", ratio, DefaultRatio)
		}
		ratio = DefaultRatio
	}

	goMemLimit := int64(float64(limitBytes) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s)",
		FormatBytes(goMemLimit), ratio*100, FormatBytes(limitBytes))

	return Result{
		Configured:     true,
		Source:         "config",
		ContainerLimit: limitBytes,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

// FormatBytes renders b with binary units, e.g. "1.5 GiB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
