//go:build cgo && yara
// +build cgo,yara

package memory

import (
	"time"

	yara "github.com/Velocidex/go-yara"
	"github.com/pkg/errors"
)

// YaraEngine compiles rule sources with libyara.
type YaraEngine struct{}

func NewRuleEngine() (RuleEngine, error) {
	return &YaraEngine{}, nil
}

func (self *YaraEngine) Compile(source string) (RuleSet, error) {
	rules, err := yara.Compile(source, nil)
	if err != nil {
		return nil, errors.Wrap(err, "compiling yara rules")
	}
	return &yaraRuleSet{rules: rules}, nil
}

type yaraRuleSet struct {
	rules *yara.Rules
}

func (self *yaraRuleSet) Scan(data []byte) ([]string, error) {
	var matches yara.MatchRules
	err := self.rules.ScanMem(data, 0, 30*time.Second, &matches)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, match.Rule)
	}
	return result, nil
}
