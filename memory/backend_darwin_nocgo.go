//go:build darwin && !cgo
// +build darwin,!cgo

package memory

import (
	"github.com/pkg/errors"
)

// Without cgo there is no mach VM access on darwin.
func openNative(pid int32) (ProcessHandle, error) {
	return nil, errors.Wrap(ErrBackendUnavailable,
		"darwin process memory requires cgo")
}

func ReleaseTaskPorts() {}
