// Package preflight validates the runtime environment at startup: the
// external tools the pipeline shells out to must be on PATH and the
// working filesystem must have headroom before any job is accepted.
package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ilyanovopashin/whisper-gui/internal/fileops"
)

// ResourceError signals insufficient local resources (disk space) for a
// heavy operation. Raised before the work starts so jobs fail fast rather
// than mid-stage.
type ResourceError struct {
	Reason string
}

func (e *ResourceError) Error() string { return "resource: " + e.Reason }

// Requirement names one external binary and a hint shown when missing.
type Requirement struct {
	Binary string
	Hint   string
}

// CheckBinaries verifies every required binary resolves on PATH.
func CheckBinaries(requirements []Requirement) error {
	var missing []string
	for _, req := range requirements {
		if _, err := exec.LookPath(req.Binary); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", req.Binary, req.Hint))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required binaries: %s", strings.Join(missing, "; "))
	}
	return nil
}

// CheckDiskSpace verifies the filesystem holding path has at least
// minFreeGB available.
func CheckDiskSpace(path string, minFreeGB float64) error {
	free, err := fileops.FreeBytes(path)
	if err != nil {
		return err
	}
	freeGB := float64(free) / (1 << 30)
	if freeGB < minFreeGB {
		return &ResourceError{Reason: fmt.Sprintf(
			"insufficient disk space at %s: %.1f GiB free, need %.1f GiB", path, freeGB, minFreeGB)}
	}
	return nil
}
