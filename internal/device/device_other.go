//go:build !(linux && (amd64 || arm64))

package device

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func openPlatform(path string) (Device, error) {
	return nil, fmt.Errorf("device: no hardware backend for this platform (wanted %s): %w", path, unix.ENODEV)
}
