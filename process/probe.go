package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

type Probe interface {
	IsAlive(pid int) bool
}

// OSProbe checks process existence with signal 0, which delivers nothing.
type OSProbe struct{}

func (OSProbe) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}
