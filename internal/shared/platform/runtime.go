package platform

import (
	"errors"
	"fmt"
	"go/version"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// MinGoVersion is the oldest toolchain the server is supported on.
const MinGoVersion = "go1.23"

// ErrRuntimeTooOld is returned by CheckRuntime when the binary was built with
// an unsupported toolchain.
var ErrRuntimeTooOld = errors.New("runtime version too old")

// CheckRuntime verifies that the running toolchain is at least min.
// Development builds ("devel ...") are accepted.
func CheckRuntime(running, min string) error {
	lang := version.Lang(running)
	if !version.IsValid(lang) {
		return nil
	}
	if version.Compare(lang, version.Lang(min)) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrRuntimeTooOld, running, min)
	}
	return nil
}

// Parallelism returns the number of CPUs this process can actually use.
//
// GOMAXPROCS already reflects the container quota (automaxprocs) and the
// scheduler affinity mask. The logical CPU count from gopsutil caps it on
// hosts where GOMAXPROCS was raised by hand. When gopsutil cannot read the
// CPU count the GOMAXPROCS value is used alone.
func Parallelism(logger zerolog.Logger) int {
	procs := runtime.GOMAXPROCS(0)

	logical, err := cpu.Counts(true)
	if err != nil || logical < 1 {
		logger.Warn().
			Err(err).
			Int("gomaxprocs", procs).
			Msg("Falling back to GOMAXPROCS to size workers, logical CPU count unavailable")
		return procs
	}

	if logical < procs {
		return logical
	}
	return procs
}
