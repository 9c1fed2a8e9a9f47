//go:build !linux

package mountinfo

import (
	"errors"
	"runtime"
)

// Read fails on systems without /proc/self/mountinfo.
func Read() (Table, error) {
	return nil, errors.New("mountinfo is not available on " + runtime.GOOS)
}
