//go:build !cgo || !yara
// +build !cgo !yara

package memory

import (
	"github.com/pkg/errors"
)

// Without the yara build tag rule scanning reports the backend as
// unavailable; the driver surfaces this before planning.
func NewRuleEngine() (RuleEngine, error) {
	return nil, errors.Wrap(ErrBackendUnavailable,
		"built without yara support")
}
