package config

import (
	"fmt"
	"strings"
)

// Host families the engine distinguishes. Family-scoped artifact
// kinds only apply when collecting on their own family.
type Family string

const (
	FAMILY_ANY     Family = ""
	FAMILY_WINDOWS Family = "windows"
	FAMILY_LINUX   Family = "linux"
	FAMILY_DARWIN  Family = "darwin"
)

// ArtifactKind is a tagged variant: either a family neutral kind or a
// family scoped subkind.
type ArtifactKind struct {
	Family Family
	Kind   string
}

func (self ArtifactKind) String() string {
	if self.Family == FAMILY_ANY {
		return self.Kind
	}
	return fmt.Sprintf("%s/%s", self.Family, self.Kind)
}

// AppliesTo reports whether an artifact of this kind should be
// collected on the given family.
func (self ArtifactKind) AppliesTo(family Family) bool {
	return self.Family == FAMILY_ANY || self.Family == family
}

var neutral_kinds = map[string]bool{
	"FileSystem": true,
	"Logs":       true,
	"UserData":   true,
	"SystemInfo": true,
	"Memory":     true,
	"Network":    true,
	"Custom":     true,
}

var family_kinds = map[string]Family{
	// Windows
	"MFT":        FAMILY_WINDOWS,
	"Registry":   FAMILY_WINDOWS,
	"EventLog":   FAMILY_WINDOWS,
	"USNJournal": FAMILY_WINDOWS,
	"Prefetch":   FAMILY_WINDOWS,
	"ShimCache":  FAMILY_WINDOWS,
	"AmCache":    FAMILY_WINDOWS,

	// Linux
	"SysLogs": FAMILY_LINUX,
	"Journal": FAMILY_LINUX,
	"Proc":    FAMILY_LINUX,
	"Audit":   FAMILY_LINUX,
	"Bash":    FAMILY_LINUX,
	"Cron":    FAMILY_LINUX,
	"Apt":     FAMILY_LINUX,
	"Dpkg":    FAMILY_LINUX,
	"Yum":     FAMILY_LINUX,
	"Systemd": FAMILY_LINUX,

	// MacOS
	"UnifiedLogs":   FAMILY_DARWIN,
	"Plist":         FAMILY_DARWIN,
	"Spotlight":     FAMILY_DARWIN,
	"FSEvents":      FAMILY_DARWIN,
	"Quarantine":    FAMILY_DARWIN,
	"KnowledgeC":    FAMILY_DARWIN,
	"LaunchAgents":  FAMILY_DARWIN,
	"LaunchDaemons": FAMILY_DARWIN,
}

var family_aliases = map[string]Family{
	"Windows": FAMILY_WINDOWS,
	"Linux":   FAMILY_LINUX,
	"MacOS":   FAMILY_DARWIN,
}

// ParseArtifactKind accepts "FileSystem", a bare subkind like "MFT"
// (family implied), or an explicit "Windows/MFT" form.
func ParseArtifactKind(in string) (ArtifactKind, error) {
	in = strings.TrimSpace(in)

	if idx := strings.IndexByte(in, '/'); idx > 0 {
		family, pres := family_aliases[in[:idx]]
		if !pres {
			return ArtifactKind{}, fmt.Errorf(
				"unknown artifact family %q", in[:idx])
		}

		kind := in[idx+1:]
		if family_kinds[kind] != family {
			return ArtifactKind{}, fmt.Errorf(
				"unknown artifact kind %q for family %v", kind, family)
		}
		return ArtifactKind{Family: family, Kind: kind}, nil
	}

	if neutral_kinds[in] {
		return ArtifactKind{Kind: in}, nil
	}

	family, pres := family_kinds[in]
	if pres {
		return ArtifactKind{Family: family, Kind: in}, nil
	}

	return ArtifactKind{}, fmt.Errorf("unknown artifact kind %q", in)
}

func (self *ArtifactKind) UnmarshalYAML(
	unmarshal func(interface{}) error) error {

	var str_form string
	if unmarshal(&str_form) == nil {
		kind, err := ParseArtifactKind(str_form)
		if err != nil {
			return err
		}
		*self = kind
		return nil
	}

	// The tagged map form, e.g. {Windows: MFT}
	var map_form map[string]string
	err := unmarshal(&map_form)
	if err != nil {
		return err
	}

	for family_name, kind := range map_form {
		parsed, err := ParseArtifactKind(family_name + "/" + kind)
		if err != nil {
			return err
		}
		*self = parsed
		return nil
	}

	return fmt.Errorf("empty artifact kind")
}

func (self ArtifactKind) MarshalYAML() (interface{}, error) {
	return self.String(), nil
}

func (self ArtifactKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", self.String())), nil
}

func (self *ArtifactKind) UnmarshalJSON(data []byte) error {
	str_form := strings.Trim(string(data), `"`)
	kind, err := ParseArtifactKind(str_form)
	if err != nil {
		return err
	}
	*self = kind
	return nil
}
