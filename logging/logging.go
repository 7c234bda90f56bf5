// Component loggers for the collection engine. Each subsystem gets a
// logrus entry tagged with its component name, and every message is
// passed through the credential scrubber before it is emitted.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/triage/scrub"
)

var (
	mu       sync.Mutex
	root     *logrus.Logger
	scrubber scrub.Scrubber = scrub.DefaultScrubber{}
)

type scrubHook struct{}

func (self scrubHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (self scrubHook) Fire(entry *logrus.Entry) error {
	mu.Lock()
	s := scrubber
	mu.Unlock()

	entry.Message = s.Scrub(entry.Message)
	for k, v := range entry.Data {
		str, ok := v.(string)
		if ok {
			entry.Data[k] = s.Scrub(str)
		}
	}
	return nil
}

func getRoot() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if root == nil {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		root.AddHook(scrubHook{})
	}
	return root
}

// GetLogger returns the logger for a named component.
func GetLogger(component string) *logrus.Entry {
	return getRoot().WithField("component", component)
}

// SetScrubber installs the sanitizer hook used for all log output.
func SetScrubber(s scrub.Scrubber) {
	mu.Lock()
	defer mu.Unlock()
	scrubber = s
}

// SetOutput redirects all engine logging, mainly used by tests.
func SetOutput(w io.Writer) {
	getRoot().SetOutput(w)
}

// SetLevel adjusts the verbosity of all component loggers.
func SetLevel(level logrus.Level) {
	getRoot().SetLevel(level)
}
