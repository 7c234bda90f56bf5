package config

import (
	"strconv"
	"strings"
)

// GlobalOptions are the typed view over the manifest's string map.
type GlobalOptions struct {
	SkipLockedFiles bool
	MaxFileSizeMb   int64

	CompressArtifacts bool

	GenerateBodyfile      bool
	BodyfileCalculateHash bool
	BodyfileHashMaxSizeMb int64
	BodyfileSkipPaths     []string
	BodyfileUseISO8601    bool
}

func parseBool(raw map[string]string, key string, def bool) bool {
	value, pres := raw[key]
	if !pres {
		return def
	}
	return strings.EqualFold(value, "true")
}

func parseInt(raw map[string]string, key string, def int64) int64 {
	value, pres := raw[key]
	if !pres {
		return def
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseGlobalOptions(raw map[string]string) *GlobalOptions {
	result := &GlobalOptions{
		SkipLockedFiles:       parseBool(raw, "skip_locked_files", false),
		MaxFileSizeMb:         parseInt(raw, "max_file_size_mb", 0),
		CompressArtifacts:     parseBool(raw, "compress_artifacts", true),
		GenerateBodyfile:      parseBool(raw, "generate_bodyfile", false),
		BodyfileCalculateHash: parseBool(raw, "bodyfile_calculate_hash", false),
		BodyfileHashMaxSizeMb: parseInt(raw, "bodyfile_hash_max_size_mb", 0),
		BodyfileUseISO8601:    parseBool(raw, "bodyfile_use_iso8601", true),
	}

	skip_paths, pres := raw["bodyfile_skip_paths"]
	if pres {
		for _, prefix := range strings.Split(skip_paths, ",") {
			prefix = strings.TrimSpace(prefix)
			if prefix != "" {
				result.BodyfileSkipPaths = append(
					result.BodyfileSkipPaths, prefix)
			}
		}
	}

	return result
}

// MaxFileSizeBytes returns 0 when no limit is configured.
func (self *GlobalOptions) MaxFileSizeBytes() int64 {
	return self.MaxFileSizeMb * 1024 * 1024
}

func (self *GlobalOptions) BodyfileHashMaxSizeBytes() int64 {
	return self.BodyfileHashMaxSizeMb * 1024 * 1024
}
