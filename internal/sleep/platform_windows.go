//go:build windows

package sleep

import (
	"errors"

	"golang.org/x/sys/windows"
)

var (
	modPowrprof         = windows.NewLazySystemDLL("powrprof.dll")
	procSetSuspendState = modPowrprof.NewProc("SetSuspendState")
)

// nativeAvailable reports whether SetSuspendState can be resolved.
func nativeAvailable() error {
	return procSetSuspendState.Find()
}

// nativeSuspend calls SetSuspendState(bHibernate=FALSE, bForce=TRUE,
// bWakeupEventsDisabled=FALSE).
func nativeSuspend() error {
	r1, _, err := procSetSuspendState.Call(0, 1, 0)
	if r1 != 0 {
		return nil
	}
	if errno, ok := err.(windows.Errno); ok && errno != 0 {
		return errno
	}
	return errors.New("SetSuspendState returned FALSE")
}

func processElevated() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}
