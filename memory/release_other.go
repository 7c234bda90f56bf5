//go:build !darwin
// +build !darwin

package memory

// Only the darwin backend caches task ports.
func ReleaseTaskPorts() {}
