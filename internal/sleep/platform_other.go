//go:build !windows

package sleep

import "os"

func nativeAvailable() error { return ErrUnsupported }

func nativeSuspend() error { return ErrUnsupported }

func processElevated() (bool, error) {
	return os.Geteuid() == 0, nil
}
