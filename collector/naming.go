package collector

import (
	"fmt"
	"os"
	"time"

	fqdn "github.com/Showmax/go-fqdn"
)

// Hostname prefers the fully qualified name, falling back to the
// kernel hostname.
func Hostname() string {
	name := fqdn.Get()
	if name == "" || name == "unknown" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "localhost"
	}
	return name
}

// ContainerName is the canonical archive name:
// <hostname>-<yyyymmdd_hhmmss>.zip
func ContainerName(hostname string, now time.Time) string {
	return fmt.Sprintf("%s-%s.zip",
		hostname, now.Format("20060102_150405"))
}
