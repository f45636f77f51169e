//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package sysprio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setNice(nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		return fmt.Errorf("setpriority %d: %w", nice, err)
	}
	return nil
}

func current() (int, error) {
	return unix.Getpriority(unix.PRIO_PROCESS, 0)
}
