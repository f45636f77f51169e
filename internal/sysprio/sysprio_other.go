//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package sysprio

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("process priority not supported on " + runtime.GOOS)

func setNice(int) error { return errUnsupported }

func current() (int, error) { return 0, errUnsupported }
