// Package pathsafe guards every path that enters or leaves the
// engine: environment expansion of manifest paths, canonicalization
// of sources and sanitization of destination names.
package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrUnresolvableVariable = errors.New("unresolvable variable")

	// %NAME% and $NAME / ${NAME} are both accepted - manifests are
	// shared between hosts.
	windows_var_re = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
	unix_var_re    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// Expand substitutes environment placeholders in a manifest path. A
// placeholder that does not resolve in the process environment is an
// error - guessing a path risks collecting the wrong artifact.
func Expand(path string) (string, error) {
	var expand_err error

	expand := func(name string, match string) string {
		value, pres := os.LookupEnv(name)
		if !pres {
			if expand_err == nil {
				expand_err = errors.Wrap(ErrUnresolvableVariable, name)
			}
			return match
		}
		return value
	}

	result := windows_var_re.ReplaceAllStringFunc(path, func(match string) string {
		return expand(match[1:len(match)-1], match)
	})

	result = unix_var_re.ReplaceAllStringFunc(result, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		return expand(name, match)
	})

	if expand_err != nil {
		return "", expand_err
	}

	return result, nil
}

// Validate canonicalizes a candidate source path (resolving symlinks
// where the path exists) and optionally asserts the result stays
// under permitted_root.
func Validate(candidate string, permitted_root string) (string, error) {
	abs_path, err := filepath.Abs(candidate)
	if err != nil {
		return "", errors.Wrap(ErrInvalidPath, candidate)
	}

	canonical, err := filepath.EvalSymlinks(abs_path)
	if err != nil {
		// Nonexistent paths can not be resolved - the cleaned
		// absolute form is canonical enough, the open will fail
		// later with a proper NotFound.
		if os.IsNotExist(err) {
			canonical = filepath.Clean(abs_path)
		} else {
			return "", errors.Wrap(ErrInvalidPath, candidate)
		}
	}

	for _, component := range strings.Split(
		filepath.ToSlash(canonical), "/") {
		if component == ".." {
			return "", errors.Wrap(ErrInvalidPath, candidate)
		}
	}

	if permitted_root != "" {
		root, err := filepath.Abs(permitted_root)
		if err != nil {
			return "", errors.Wrap(ErrInvalidPath, permitted_root)
		}

		rel, err := filepath.Rel(root, canonical)
		if err != nil || rel == ".." ||
			strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", errors.Wrapf(ErrInvalidPath,
				"%s escapes %s", candidate, permitted_root)
		}
	}

	return canonical, nil
}

// ValidateDestination checks a destination relative path for archive
// inclusion: no absolute components, no traversal.
func ValidateDestination(destination string) error {
	normalized := strings.ReplaceAll(destination, "\\", "/")
	if strings.HasPrefix(normalized, "/") ||
		regexp.MustCompile(`^[A-Za-z]:`).MatchString(normalized) {
		return errors.Wrap(ErrInvalidPath, destination)
	}

	for _, component := range strings.Split(normalized, "/") {
		if component == ".." {
			return errors.Wrap(ErrInvalidPath, destination)
		}
	}
	return nil
}

// Names which are devices on windows regardless of extension.
var reserved_names = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const max_name_length = 255

// SanitizeName makes a single path component safe to create on any
// supported filesystem. The function is idempotent.
func SanitizeName(name string) string {
	builder := strings.Builder{}

	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			builder.WriteString(fmt.Sprintf("_%02X", r))

		case r < 0x20:
			builder.WriteString(fmt.Sprintf("_%02X", r))

		case r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			builder.WriteString(fmt.Sprintf("_%02X", r))

		default:
			builder.WriteRune(r)
		}
	}

	result := strings.TrimRight(builder.String(), ". ")

	base := result
	idx := strings.IndexByte(result, '.')
	if idx >= 0 {
		base = result[:idx]
	}
	if reserved_names[strings.ToUpper(base)] {
		result = "_" + result
	}

	runes := []rune(result)
	if len(runes) > max_name_length {
		result = string(runes[:max_name_length])
		// Never end a truncated name on a trailing dot or space.
		result = strings.TrimRight(result, ". ")
	}

	if result == "" {
		result = "_"
	}

	return result
}
