package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// Secrets must never reach the log output, whatever the caller
// interpolates.
func TestLogLinesAreScrubbed(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetLevel(logrus.DebugLevel)
	defer SetOutput(bytes.NewBuffer(nil))

	logger := GetLogger("test")
	logger.Errorf("sftp connect failed: password=supersecret host=%v",
		"files.example.com")
	logger.WithField("detail",
		"token=abcdefghijklmnopqrstuvwxyz012345").Warn("upload retry")

	output := buf.String()
	assert.NotContains(t, output, "supersecret")
	assert.NotContains(t, output, "abcdefghijklmnopqrstuvwxyz012345")
	assert.Contains(t, output, "files.example.com")
	assert.Contains(t, output, "REDACTED")
	assert.Contains(t, output, "component=test")
}
